package xerosync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/shopspring/decimal"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("XERO_API_BASE_URL", server.URL)
	t.Setenv("XERO_API_KEY", "test-key")
	t.Setenv("XERO_API_KEY_HEADER", "")
	t.Setenv("XERO_RATE_LIMIT_PER_MIN", "600000")

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCreatePayment_SendsIdempotencyKeyAndApiKey(t *testing.T) {
	var gotIdemKey, gotApiKey, gotPath string
	var gotBody workflow.PaymentRequest

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotIdemKey = r.Header.Get("Idempotency-Key")
		gotApiKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"payment_id": "pay-777"})
	}))

	req := workflow.PaymentRequest{
		BusinessId:  "biz-1",
		Amount:      decimal.RequireFromString("150.25"),
		BankAccount: "BANK-01",
		Reference:   "REMIT-42",
		InvoiceRefs: []string{"INV-1", "INV-2"},
	}
	paymentId, err := client.CreatePayment(context.Background(), "idem-token-1", req)
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if paymentId != "pay-777" {
		t.Fatalf("expected payment id pay-777, got %q", paymentId)
	}
	if gotPath != "POST /v1/payments" {
		t.Fatalf("unexpected request: %s", gotPath)
	}
	if gotIdemKey != "idem-token-1" {
		t.Fatalf("expected Idempotency-Key header, got %q", gotIdemKey)
	}
	if gotApiKey != "test-key" {
		t.Fatalf("expected X-API-Key header, got %q", gotApiKey)
	}
	if !gotBody.Amount.Equal(req.Amount) || gotBody.Reference != "REMIT-42" {
		t.Fatalf("request body did not round-trip: %+v", gotBody)
	}
}

func TestCreatePayment_MissingPaymentIdIsGatewayError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := client.CreatePayment(context.Background(), "idem", workflow.PaymentRequest{})
	var gwErr *workflow.GatewayError
	if !errors.As(err, &gwErr) || !gwErr.Transient() {
		t.Fatalf("expected a transient gateway error, got %v", err)
	}
}

func TestGetPaymentStatus_States(t *testing.T) {
	cases := []struct {
		body     string
		expected workflow.PaymentState
		amount   string
	}{
		{`{"state":"reconciled","amount":"150.25"}`, workflow.PaymentStateReconciled, "150.25"},
		{`{"state":"pending"}`, workflow.PaymentStatePending, "0"},
		{`{"state":"authorised"}`, workflow.PaymentStatePending, "0"},
		{`{"state":"deleted"}`, workflow.PaymentStateMissing, "0"},
		{`{"state":"voided"}`, workflow.PaymentStateMissing, "0"},
	}
	for _, tc := range cases {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tc.body))
		}))
		status, err := client.GetPaymentStatus(context.Background(), "pay-1")
		if err != nil {
			t.Fatalf("GetPaymentStatus(%s): %v", tc.body, err)
		}
		if status.State != tc.expected {
			t.Fatalf("body %s expected state %s, got %s", tc.body, tc.expected, status.State)
		}
		if !status.Amount.Equal(decimal.RequireFromString(tc.amount)) {
			t.Fatalf("body %s expected amount %s, got %s", tc.body, tc.amount, status.Amount)
		}
	}
}

func TestGetPaymentStatus_NotFoundMapsToMissing(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such payment", http.StatusNotFound)
	}))
	status, err := client.GetPaymentStatus(context.Background(), "pay-gone")
	if err != nil {
		t.Fatalf("expected 404 to map to missing, got %v", err)
	}
	if status.State != workflow.PaymentStateMissing {
		t.Fatalf("expected missing state, got %s", status.State)
	}
}

func TestGetPaymentStatus_UnknownStateIsGatewayError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"surprise"}`))
	}))
	_, err := client.GetPaymentStatus(context.Background(), "pay-1")
	var gwErr *workflow.GatewayError
	if !errors.As(err, &gwErr) || gwErr.StatusCode != 502 {
		t.Fatalf("expected a 502 gateway error, got %v", err)
	}
}

func TestDo_ErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		err := client.DeletePayment(context.Background(), "pay-1")
		var gwErr *workflow.GatewayError
		if !errors.As(err, &gwErr) {
			t.Fatalf("status %d: expected a gateway error, got %v", tc.status, err)
		}
		if gwErr.StatusCode != tc.status {
			t.Fatalf("expected status %d, got %d", tc.status, gwErr.StatusCode)
		}
		if gwErr.Transient() != tc.transient {
			t.Fatalf("status %d: expected transient=%v", tc.status, tc.transient)
		}
	}
}

func TestDo_TransportFailureIsTransient(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	// Point at a closed port.
	client.baseURL = "http://127.0.0.1:1"

	err := client.DeletePayment(context.Background(), "pay-1")
	var gwErr *workflow.GatewayError
	if !errors.As(err, &gwErr) || gwErr.StatusCode != 0 || !gwErr.Transient() {
		t.Fatalf("expected a transient transport error, got %v", err)
	}
}

func TestListOpenInvoices(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/invoices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("business_id") != "biz-9" || r.URL.Query().Get("status") != "open" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"items":[
			{"invoice_number":"INV-1","contact":"Acme","amount_due":"100.00","due_date":"2026-09-15"},
			{"invoice_number":"INV-2","contact":"Globex","amount_due":"25.50"}
		]}`))
	}))

	invoices, err := client.ListOpenInvoices(context.Background(), "biz-9")
	if err != nil {
		t.Fatalf("ListOpenInvoices: %v", err)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
	if invoices[0].InvoiceNumber != "INV-1" || !invoices[0].AmountDue.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("unexpected first invoice: %+v", invoices[0])
	}
	if invoices[0].DueDate == nil || invoices[0].DueDate.Format("2006-01-02") != "2026-09-15" {
		t.Fatalf("expected due date 2026-09-15, got %v", invoices[0].DueDate)
	}
	if invoices[1].DueDate != nil {
		t.Fatalf("expected nil due date, got %v", invoices[1].DueDate)
	}
}
