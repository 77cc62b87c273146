// Package khalti implements the Khalti ePayment (KPG-2) initiate and lookup APIs.
package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Domenick1991/docbooking/config"
	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testBaseURL = "https://dev.khalti.com"
	prodBaseURL = "https://khalti.com"

	initiatePath = "/api/v2/epayment/initiate/"
	lookupPath   = "/api/v2/epayment/lookup/"

	statusCompleted = "Completed"
)

type Client struct {
	cfg       config.KhaltiConfig
	returnURL string
	baseURL   string
	http      *http.Client
	log       *zap.Logger
}

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

func NewClient(cfg config.KhaltiConfig, returnURL string, timeout time.Duration, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg,
		returnURL: returnURL,
		baseURL:   prodBaseURL,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
	if cfg.TestMode {
		c.baseURL = testBaseURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToPaisa converts a rupee amount to the integer paisa Khalti expects.
func ToPaisa(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type initiateRequest struct {
	ReturnURL         string `json:"return_url"`
	WebsiteURL        string `json:"website_url"`
	Amount            int64  `json:"amount"`
	PurchaseOrderID   string `json:"purchase_order_id"`
	PurchaseOrderName string `json:"purchase_order_name"`
}

type initiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

func (c *Client) Initiate(ctx context.Context, b *domain.Booking) (*domain.PaymentInitiation, error) {
	if b.PaymentMethod != domain.PaymentMethodKhalti || b.PaymentStatus != domain.PaymentStatusPending || b.TxRef() == "" {
		return nil, domain.ErrInvalidBooking
	}
	if c.cfg.SecretKey == "" {
		c.log.Error("khalti.Initiate secret key not configured")
		return nil, domain.ErrConfiguration
	}

	var out initiateResponse
	err := c.post(ctx, initiatePath, initiateRequest{
		ReturnURL:         c.returnURL,
		WebsiteURL:        c.cfg.WebsiteURL,
		Amount:            ToPaisa(b.Price),
		PurchaseOrderID:   b.TxRef(),
		PurchaseOrderName: fmt.Sprintf("Appointment booking #%d", b.ID),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("khalti initiate: %w", err)
	}
	if out.Pidx == "" || out.PaymentURL == "" {
		return nil, fmt.Errorf("khalti initiate: incomplete response")
	}

	c.log.Info("khalti.Initiate created payment",
		zap.Int64("booking_id", b.ID),
		zap.String("transaction_ref", b.TxRef()),
		zap.String("pidx", out.Pidx),
	)
	return &domain.PaymentInitiation{
		Method:     domain.PaymentMethodKhalti,
		PaymentURL: out.PaymentURL,
		GatewayRef: out.Pidx,
	}, nil
}

type lookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// Verify looks the payment up by the pidx stored at initiation. Errors and
// amount mismatches are reported as VerificationFailed.
func (c *Client) Verify(ctx context.Context, b *domain.Booking) domain.VerificationStatus {
	pidx := b.GatewayReference()
	if pidx == "" || c.cfg.SecretKey == "" {
		c.log.Warn("khalti.Verify missing pidx or secret", zap.Int64("booking_id", b.ID))
		return domain.VerificationFailed
	}

	var out lookupResponse
	if err := c.post(ctx, lookupPath, map[string]string{"pidx": pidx}, &out); err != nil {
		c.log.Error("khalti.Verify lookup failed", zap.Int64("booking_id", b.ID), zap.Error(err))
		return domain.VerificationFailed
	}

	c.log.Info("khalti.Verify response", zap.Int64("booking_id", b.ID), zap.String("pidx", pidx), zap.String("status", out.Status))

	switch {
	case out.Status == statusCompleted && out.TotalAmount == ToPaisa(b.Price):
		return domain.VerificationComplete
	case out.Status == statusCompleted:
		c.log.Warn("khalti.Verify amount mismatch", zap.Int64("expected", ToPaisa(b.Price)), zap.Int64("reported", out.TotalAmount))
		return domain.VerificationFailed
	case out.Status == "":
		return domain.VerificationFailed
	}
	return domain.VerificationStatus(strings.ToUpper(out.Status))
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Key "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return json.Unmarshal(body, out)
}
