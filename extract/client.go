// Package extract calls the document-AI service that turns an uploaded
// remittance advice into a structured candidate payment set.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"github.com/shopspring/decimal"
)

type CandidateLine struct {
	InvoiceNumber string          `json:"invoice_number"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
}

// Result is the structured output of one extraction run. Confidence is
// 0-100 and produced once; it is stored for monitoring only.
type Result struct {
	PaymentDate      *time.Time      `json:"payment_date"`
	PaymentReference string          `json:"payment_reference"`
	BankAccount      string          `json:"bank_account"`
	Confidence       int             `json:"confidence"`
	Lines            []CandidateLine `json:"lines"`
}

type Extractor interface {
	Extract(ctx context.Context, documentURL string) (*Result, error)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("EXTRACT_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("EXTRACT_API_BASE_URL is required")
	}
	apiKey := strings.TrimSpace(os.Getenv("EXTRACT_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("EXTRACT_API_KEY is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Document AI runs are slow; well beyond a normal API timeout.
		http: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type extractRequest struct {
	DocumentURL string `json:"document_url"`
}

type extractResponse struct {
	PaymentDate      *string `json:"payment_date"`
	PaymentReference string  `json:"payment_reference"`
	BankAccount      string  `json:"bank_account"`
	Confidence       int     `json:"confidence"`
	Lines            []struct {
		InvoiceNumber string `json:"invoice_number"`
		PaidAmount    string `json:"paid_amount"`
	} `json:"lines"`
}

func (c *Client) Extract(ctx context.Context, documentURL string) (*Result, error) {
	payload, err := json.Marshal(extractRequest{DocumentURL: documentURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extraction service error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("malformed extraction response: %w", err)
	}

	result := &Result{
		PaymentReference: parsed.PaymentReference,
		BankAccount:      parsed.BankAccount,
		Confidence:       parsed.Confidence,
	}
	if parsed.PaymentDate != nil {
		if t, err := time.Parse("2006-01-02", *parsed.PaymentDate); err == nil {
			result.PaymentDate = &t
		}
	}
	for _, line := range parsed.Lines {
		// Amounts come back as the document printed them ("MMK 20,000").
		amount, err := utils.ParseFormattedAmount(line.PaidAmount)
		if err != nil {
			return nil, fmt.Errorf("malformed line amount %q: %w", line.PaidAmount, err)
		}
		result.Lines = append(result.Lines, CandidateLine{
			InvoiceNumber: line.InvoiceNumber,
			PaidAmount:    amount,
		})
	}
	return result, nil
}
