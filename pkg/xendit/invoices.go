package xendit

import (
	"context"
	"net/http"
	"time"
)

// Invoice is a Xendit-side request for funds. Its ID is the join key between
// webhook events and whatever local record the caller created it for.
type Invoice struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	InvoiceURL string    `json:"invoice_url"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// Payment holds the subset of Xendit payment fields the billing flow reads.
type Payment struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// CreateInvoiceRequest describes the invoice to create.
type CreateInvoiceRequest struct {
	ExternalID         string
	Amount             int64
	Currency           string
	Description        string
	CustomerEmail      string
	CustomerName       string
	SuccessRedirectURL string
	FailureRedirectURL string
	InvoiceDuration    time.Duration // how long the invoice stays payable
}

type invoiceCustomer struct {
	GivenNames string `json:"given_names,omitempty"`
	Email      string `json:"email,omitempty"`
}

type invoiceItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type createInvoicePayload struct {
	ExternalID         string              `json:"external_id"`
	Amount             int64               `json:"amount"`
	Description        string              `json:"description"`
	InvoiceDuration    int64               `json:"invoice_duration"` // seconds
	Customer           invoiceCustomer     `json:"customer"`
	NotificationPrefs  map[string][]string `json:"customer_notification_preference,omitempty"`
	SuccessRedirectURL string              `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string              `json:"failure_redirect_url,omitempty"`
	Currency           string              `json:"currency"`
	Items              []invoiceItem       `json:"items"`
}

// CreateInvoice creates a hosted invoice that the customer pays through
// Xendit's checkout page.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	payload := createInvoicePayload{
		ExternalID:      req.ExternalID,
		Amount:          req.Amount,
		Description:     req.Description,
		InvoiceDuration: int64(req.InvoiceDuration.Seconds()),
		Customer: invoiceCustomer{
			GivenNames: req.CustomerName,
			Email:      req.CustomerEmail,
		},
		NotificationPrefs: map[string][]string{
			"invoice_created":  {"email"},
			"invoice_reminder": {"email"},
			"invoice_paid":     {"email"},
			"invoice_expired":  {"email"},
		},
		SuccessRedirectURL: req.SuccessRedirectURL,
		FailureRedirectURL: req.FailureRedirectURL,
		Currency:           req.Currency,
		Items: []invoiceItem{
			{Name: req.Description, Quantity: 1, Price: req.Amount},
		},
	}

	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/v2/invoices", payload, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice fetches the current state of an invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodGet, "/v2/invoices/"+invoiceID, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ExpireInvoice terminates a payable invoice. Used as the compensation step
// when a local record cannot be persisted after the invoice was created.
func (c *Client) ExpireInvoice(ctx context.Context, invoiceID string) error {
	return c.do(ctx, http.MethodPost, "/v2/invoices/"+invoiceID+"/expire", nil, nil)
}

// GetPayment fetches payment details by the gateway's payment id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, http.MethodGet, "/v2/payments/"+paymentID, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
