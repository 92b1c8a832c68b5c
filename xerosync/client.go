package xerosync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/shopspring/decimal"
)

// Client talks to the external accounting ledger's HTTP API and implements
// workflow.Gateway. All POSTs carry an Idempotency-Key header so resends
// after a timeout cannot double-create.
type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("XERO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.xero.example.com"
	}
	apiKey := strings.TrimSpace(os.Getenv("XERO_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("xero api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("XERO_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("XERO_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type createPaymentResponse struct {
	PaymentId string `json:"payment_id"`
}

type paymentStatusResponse struct {
	State  string `json:"state"`
	Amount string `json:"amount"`
}

type invoiceListResponse struct {
	Items []invoiceItem `json:"items"`
}

type invoiceItem struct {
	InvoiceNumber string  `json:"invoice_number"`
	Contact       string  `json:"contact"`
	AmountDue     string  `json:"amount_due"`
	DueDate       *string `json:"due_date"`
}

func (c *Client) CreatePayment(ctx context.Context, idempotencyKey string, req workflow.PaymentRequest) (string, error) {
	var parsed createPaymentResponse
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if err := c.do(ctx, http.MethodPost, "/v1/payments", nil, req, headers, &parsed); err != nil {
		return "", err
	}
	if parsed.PaymentId == "" {
		return "", &workflow.GatewayError{StatusCode: 502, Body: "create payment returned no payment id"}
	}
	return parsed.PaymentId, nil
}

func (c *Client) DeletePayment(ctx context.Context, paymentId string) error {
	path := "/v1/payments/" + url.PathEscape(paymentId)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil, nil)
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentId string) (workflow.PaymentStatus, error) {
	var parsed paymentStatusResponse
	path := "/v1/payments/" + url.PathEscape(paymentId) + "/status"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, nil, &parsed); err != nil {
		var gwErr *workflow.GatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound {
			return workflow.PaymentStatus{State: workflow.PaymentStateMissing}, nil
		}
		return workflow.PaymentStatus{}, err
	}
	status := workflow.PaymentStatus{}
	switch parsed.State {
	case "reconciled":
		status.State = workflow.PaymentStateReconciled
	case "pending", "authorised":
		status.State = workflow.PaymentStatePending
	case "missing", "deleted", "voided":
		status.State = workflow.PaymentStateMissing
	default:
		return workflow.PaymentStatus{}, &workflow.GatewayError{
			StatusCode: 502,
			Body:       fmt.Sprintf("unknown payment state %q", parsed.State),
		}
	}
	if parsed.Amount != "" {
		amount, err := parseAmount(parsed.Amount)
		if err != nil {
			return workflow.PaymentStatus{}, &workflow.GatewayError{StatusCode: 502, Body: err.Error()}
		}
		status.Amount = amount
	}
	return status, nil
}

func (c *Client) ListOpenInvoices(ctx context.Context, businessId string) ([]workflow.Invoice, error) {
	params := url.Values{}
	params.Set("business_id", businessId)
	params.Set("status", "open")

	var parsed invoiceListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/invoices", params, nil, nil, &parsed); err != nil {
		return nil, err
	}

	invoices := make([]workflow.Invoice, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		amount, err := parseAmount(item.AmountDue)
		if err != nil {
			return nil, &workflow.GatewayError{StatusCode: 502, Body: err.Error()}
		}
		inv := workflow.Invoice{
			InvoiceNumber: item.InvoiceNumber,
			Contact:       item.Contact,
			AmountDue:     amount,
		}
		if item.DueDate != nil {
			if t, err := time.Parse("2006-01-02", *item.DueDate); err == nil {
				inv.DueDate = &t
			}
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed amount %q", value)
	}
	return amount, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values,
	payload interface{}, headers map[string]string, out interface{}) error {

	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &workflow.GatewayError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &workflow.GatewayError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &workflow.GatewayError{StatusCode: resp.StatusCode, Body: "malformed response body", Err: err}
	}
	return nil
}
