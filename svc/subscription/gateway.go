package subscription

import (
	"context"
	"time"

	"github.com/alfylabs/billing/pkg/xendit"
)

// InvoiceSpec describes the remote invoice to create for a subscription.
type InvoiceSpec struct {
	ExternalID         string
	Amount             int64
	Currency           string
	Description        string
	CustomerEmail      string
	CustomerName       string
	SuccessRedirectURL string
	FailureRedirectURL string
	Duration           time.Duration
}

// GatewayInvoice is the gateway's answer to invoice creation.
type GatewayInvoice struct {
	InvoiceID string
	URL       string
	ExpiresAt time.Time
}

// PaymentGateway abstracts the external payment processor. Network behavior
// (latency, failure) is the caller's problem: every call takes a context and
// the service bounds it with a timeout.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, spec InvoiceSpec) (*GatewayInvoice, error)

	// ExpireInvoice terminates a payable invoice; used to compensate when the
	// local record cannot be persisted after the remote invoice was created.
	ExpireInvoice(ctx context.Context, invoiceID string) error

	// VerifyCallbackToken reports whether an inbound webhook's token matches
	// the shared secret. Implementations must compare in constant time.
	VerifyCallbackToken(presented string) bool
}

// XenditGateway adapts pkg/xendit to the PaymentGateway port.
type XenditGateway struct {
	client *xendit.Client
}

func NewXenditGateway(client *xendit.Client) *XenditGateway {
	if client == nil {
		panic("subscription: xendit client is required")
	}
	return &XenditGateway{client: client}
}

func (g *XenditGateway) CreateInvoice(ctx context.Context, spec InvoiceSpec) (*GatewayInvoice, error) {
	inv, err := g.client.CreateInvoice(ctx, xendit.CreateInvoiceRequest{
		ExternalID:         spec.ExternalID,
		Amount:             spec.Amount,
		Currency:           spec.Currency,
		Description:        spec.Description,
		CustomerEmail:      spec.CustomerEmail,
		CustomerName:       spec.CustomerName,
		SuccessRedirectURL: spec.SuccessRedirectURL,
		FailureRedirectURL: spec.FailureRedirectURL,
		InvoiceDuration:    spec.Duration,
	})
	if err != nil {
		return nil, err
	}
	return &GatewayInvoice{
		InvoiceID: inv.ID,
		URL:       inv.InvoiceURL,
		ExpiresAt: inv.ExpiryDate,
	}, nil
}

func (g *XenditGateway) ExpireInvoice(ctx context.Context, invoiceID string) error {
	return g.client.ExpireInvoice(ctx, invoiceID)
}

func (g *XenditGateway) VerifyCallbackToken(presented string) bool {
	return g.client.VerifyCallbackToken(presented)
}
