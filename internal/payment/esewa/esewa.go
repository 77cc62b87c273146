// Package esewa implements the eSewa ePay v2 form integration: signed
// initiation payloads and the server-side transaction status check.
package esewa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/docbooking/config"
	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testFormBase   = "https://rc-epay.esewa.com.np"
	prodFormBase   = "https://epay.esewa.com.np"
	testStatusBase = "https://rc.esewa.com.np"
	prodStatusBase = "https://esewa.com.np"

	formPath   = "/api/epay/main/v2/form"
	statusPath = "/api/epay/transaction/status/"

	SignedFieldNames = "total_amount,transaction_uuid,product_code"
)

type Client struct {
	cfg        config.EsewaConfig
	tax        decimal.Decimal
	successURL string
	failureURL string
	formBase   string
	statusBase string
	http       *http.Client
	log        *zap.Logger
}

type Option func(*Client)

// WithBaseURLs points the client at alternative form and status hosts.
func WithBaseURLs(formBase, statusBase string) Option {
	return func(c *Client) {
		c.formBase = strings.TrimRight(formBase, "/")
		c.statusBase = strings.TrimRight(statusBase, "/")
	}
}

// NewClient returns an adapter configured for sandbox or production hosts
// according to cfg.TestMode. successURL is where eSewa sends the payer after a
// payment (the callback endpoint); failureURL receives cancelled payments.
func NewClient(cfg config.EsewaConfig, successURL, failureURL string, timeout time.Duration, log *zap.Logger, opts ...Option) *Client {
	tax, err := decimal.NewFromString(cfg.TaxAmount)
	if err != nil {
		tax = decimal.Zero
	}
	c := &Client{
		cfg:        cfg,
		tax:        tax,
		successURL: successURL,
		failureURL: failureURL,
		formBase:   prodFormBase,
		statusBase: prodStatusBase,
		http:       &http.Client{Timeout: timeout},
		log:        log,
	}
	if cfg.TestMode {
		c.formBase = testFormBase
		c.statusBase = testStatusBase
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign returns base64(HMAC-SHA256(secret, message)).
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SigningMessage builds the string covered by SignedFieldNames.
func SigningMessage(totalAmount, transactionUUID, productCode string) string {
	return fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s", totalAmount, transactionUUID, productCode)
}

func (c *Client) Initiate(_ context.Context, b *domain.Booking) (*domain.PaymentInitiation, error) {
	return c.BuildInitiationPayload(b)
}

// BuildInitiationPayload produces the signed form the client posts to eSewa.
func (c *Client) BuildInitiationPayload(b *domain.Booking) (*domain.PaymentInitiation, error) {
	if b.PaymentMethod != domain.PaymentMethodEsewa || b.PaymentStatus != domain.PaymentStatusPending || b.TxRef() == "" {
		return nil, domain.ErrInvalidBooking
	}
	if c.cfg.SecretKey == "" {
		c.log.Error("esewa.BuildInitiationPayload secret key not configured")
		return nil, domain.ErrConfiguration
	}

	tax := c.tax
	if tax.GreaterThan(b.Price) {
		tax = b.Price
	}
	total := b.Price.StringFixed(2)
	message := SigningMessage(total, b.TxRef(), c.cfg.ProductCode)
	signature := Sign(c.cfg.SecretKey, message)

	c.log.Info("esewa.BuildInitiationPayload signed",
		zap.Int64("booking_id", b.ID),
		zap.String("transaction_ref", b.TxRef()),
		zap.String("total_amount", total),
		zap.String("secret", maskSecret(c.cfg.SecretKey)),
	)

	return &domain.PaymentInitiation{
		Method:  domain.PaymentMethodEsewa,
		FormURL: c.formBase + formPath,
		FormData: map[string]string{
			"amount":                  b.Price.Sub(tax).StringFixed(2),
			"tax_amount":              tax.StringFixed(2),
			"total_amount":            total,
			"transaction_uuid":        b.TxRef(),
			"product_code":            c.cfg.ProductCode,
			"product_service_charge":  "0.00",
			"product_delivery_charge": "0.00",
			"success_url":             c.successURL,
			"failure_url":             c.failureURL,
			"signed_field_names":      SignedFieldNames,
			"signature":               signature,
		},
	}, nil
}

func (c *Client) Verify(ctx context.Context, b *domain.Booking) domain.VerificationStatus {
	return c.VerifyPayment(ctx, b.TxRef(), b.Price)
}

type statusResponse struct {
	ProductCode     string          `json:"product_code"`
	TransactionUUID string          `json:"transaction_uuid"`
	TotalAmount     json.RawMessage `json:"total_amount"`
	Status          string          `json:"status"`
	RefID           *string         `json:"ref_id"`
}

// VerifyPayment asks eSewa for the transaction status. Every transport,
// protocol or decoding problem is reported as VerificationFailed.
func (c *Client) VerifyPayment(ctx context.Context, transactionRef string, expectedAmount decimal.Decimal) domain.VerificationStatus {
	total := expectedAmount.StringFixed(2)
	params := url.Values{}
	params.Set("product_code", c.cfg.ProductCode)
	params.Set("total_amount", total)
	params.Set("transaction_uuid", transactionRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusBase+statusPath+"?"+params.Encode(), nil)
	if err != nil {
		c.log.Error("esewa.VerifyPayment build request", zap.Error(err))
		return domain.VerificationFailed
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.log.Error("esewa.VerifyPayment request failed", zap.String("transaction_ref", transactionRef), zap.Error(err))
		return domain.VerificationFailed
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.log.Warn("esewa.VerifyPayment non-success response", zap.String("transaction_ref", transactionRef), zap.Int("http_status", res.StatusCode))
		return domain.VerificationFailed
	}

	var body statusResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		c.log.Error("esewa.VerifyPayment decode response", zap.String("transaction_ref", transactionRef), zap.Error(err))
		return domain.VerificationFailed
	}

	c.log.Info("esewa.VerifyPayment response",
		zap.String("transaction_ref", transactionRef),
		zap.String("total_amount", total),
		zap.String("status", body.Status),
	)

	if body.Status == "" {
		return domain.VerificationFailed
	}
	if body.Status != string(domain.VerificationComplete) {
		return domain.VerificationStatus(body.Status)
	}
	if raw := strings.TrimSpace(string(body.TotalAmount)); raw != "" && raw != "null" {
		reported, err := decimal.NewFromString(strings.Trim(raw, `"`))
		if err != nil || !reported.Equal(expectedAmount) {
			c.log.Warn("esewa.VerifyPayment amount mismatch",
				zap.String("transaction_ref", transactionRef),
				zap.String("expected", total),
				zap.ByteString("reported", body.TotalAmount),
			)
			return domain.VerificationFailed
		}
	}
	return domain.VerificationComplete
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
