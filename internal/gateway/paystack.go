package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
)

// PaystackClient implements Client against a Paystack-compatible REST API.
type PaystackClient struct {
	baseURL   string
	secretKey string
	currency  string
	http      *http.Client
}

// NewPaystackClient constructs a client. timeout bounds every call end to end.
func NewPaystackClient(baseURL, secretKey, currency string, timeout time.Duration) *PaystackClient {
	return &PaystackClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		currency:  currency,
		http:      &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type customerPayload struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

type transactionPayload struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	PaidAt    *time.Time      `json:"paid_at"`
	Channel   string          `json:"channel"`
	Currency  string          `json:"currency"`
	Customer  customerPayload `json:"customer"`
}

func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var data json.RawMessage
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify transaction", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	var tx transactionPayload
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, &Error{Op: "verify transaction", Err: fmt.Errorf("decode data: %w", err)}
	}
	out := &Transaction{
		Reference: tx.Reference,
		Status:    tx.Status,
		Amount:    MajorUnits(tx.Amount),
		Channel:   tx.Channel,
		Currency:  tx.Currency,
		Customer:  model.Customer{Email: tx.Customer.Email, CustomerCode: tx.Customer.CustomerCode},
		Raw:       data,
	}
	if tx.PaidAt != nil {
		out.PaidAt = tx.PaidAt.UTC()
	}
	return out, nil
}

func (c *PaystackClient) CreateTransferRecipient(ctx context.Context, account model.AccountDetails) (string, error) {
	currency := account.Currency
	if currency == "" {
		currency = c.currency
	}
	body := map[string]string{
		"type":           "nuban",
		"name":           account.AccountName,
		"account_number": account.AccountNumber,
		"bank_code":      account.BankCode,
		"currency":       currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.do(ctx, "create transfer recipient", http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", &Error{Op: "create transfer recipient", Message: "empty recipient code"}
	}
	return data.RecipientCode, nil
}

func (c *PaystackClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    MinorUnits(req.Amount),
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	var data struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if err := c.do(ctx, "initiate transfer", http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}
	return &Transfer{Reference: data.Reference, TransferCode: data.TransferCode, Status: data.Status}, nil
}

func (c *PaystackClient) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]any{
		"transaction": req.TransactionReference,
		"amount":      MinorUnits(req.Amount),
	}
	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, "refund", http.MethodPost, "/refund", body, &data); err != nil {
		return nil, err
	}
	return &RefundResult{ID: data.ID, Status: data.Status}, nil
}

// do sends one request and decodes the envelope's data into out.
func (c *PaystackClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
