package booking

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Domenick1991/docbooking/internal/domain"
	"go.uber.org/zap"
)

const (
	msgInvalidCallback  = "Invalid callback data"
	msgBookingNotFound  = "Booking not found"
	msgProcessingFailed = "Payment processing failed"
)

// Redirects holds the frontend pages a payer lands on after a gateway callback.
type Redirects struct {
	FrontendURL string
}

func (r Redirects) Success(params url.Values) string {
	return strings.TrimRight(r.FrontendURL, "/") + "/paymentsuccess?" + params.Encode()
}

func (r Redirects) Failure(message string) string {
	return strings.TrimRight(r.FrontendURL, "/") + "/paymentfailure?" + url.Values{"error": {message}}.Encode()
}

type callbackPayload struct {
	TransactionUUID string          `json:"transaction_uuid"`
	TotalAmount     json.RawMessage `json:"total_amount"`
	Status          string          `json:"status"`
	TransactionCode string          `json:"transaction_code"`
}

// decodeCallback parses the base64 JSON document eSewa appends to its redirect.
func decodeCallback(data string) (*callbackPayload, error) {
	// query decoding turns '+' into ' '
	data = strings.ReplaceAll(strings.TrimSpace(data), " ", "+")
	if data == "" {
		return nil, domain.ErrInvalidCallbackPayload
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCallbackPayload, err)
	}
	var p callbackPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCallbackPayload, err)
	}
	if p.TransactionUUID == "" {
		return nil, fmt.Errorf("%w: transaction_uuid missing", domain.ErrInvalidCallbackPayload)
	}
	return &p, nil
}

// HandleCallback processes an eSewa redirect and returns where to send the
// payer. The returned URL is always usable; the error says why it points at
// the failure page.
func (s *BookingService) HandleCallback(ctx context.Context, data string) (string, error) {
	payload, err := decodeCallback(data)
	if err != nil {
		s.log.Warn("booking.HandleCallback invalid payload", zap.Int("length", len(data)), zap.Error(err))
		return s.redirects.Failure(msgInvalidCallback), err
	}
	ref := payload.TransactionUUID
	success := s.redirects.Success(url.Values{"data": {data}})

	if s.cache != nil {
		if prior, err := s.cache.CallbackOutcome(ctx, ref); err == nil && prior == domain.PaymentStatusCompleted {
			s.log.Info("booking.HandleCallback already processed", zap.String("transaction_ref", ref))
			return success, nil
		}
	}

	b, err := s.bookings.GetByTransactionRef(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			s.log.Warn("booking.HandleCallback unknown transaction", zap.String("transaction_ref", ref))
			return s.redirects.Failure(msgBookingNotFound), err
		}
		s.log.Error("booking.HandleCallback lookup", zap.String("transaction_ref", ref), zap.Error(err))
		return s.redirects.Failure(msgProcessingFailed), err
	}
	if b.PaymentMethod != domain.PaymentMethodEsewa {
		s.log.Warn("booking.HandleCallback method mismatch", zap.Int64("booking_id", b.ID), zap.String("payment_method", string(b.PaymentMethod)))
		return s.redirects.Failure(msgInvalidCallback), domain.ErrInvalidCallbackPayload
	}

	return s.redirectFor(ctx, b, success)
}

// HandleKhaltiCallback processes the Khalti return URL. The booking is found by
// purchase_order_id; pidx must match the one stored at initiation. Bookings
// without a stored pidx are left to CheckStatus and the reconciler.
func (s *BookingService) HandleKhaltiCallback(ctx context.Context, purchaseOrderID, pidx string) (string, error) {
	if purchaseOrderID == "" || pidx == "" {
		s.log.Warn("booking.HandleKhaltiCallback missing identifiers")
		return s.redirects.Failure(msgInvalidCallback), domain.ErrInvalidCallbackPayload
	}

	b, err := s.bookings.GetByTransactionRef(ctx, purchaseOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			return s.redirects.Failure(msgBookingNotFound), err
		}
		s.log.Error("booking.HandleKhaltiCallback lookup", zap.String("transaction_ref", purchaseOrderID), zap.Error(err))
		return s.redirects.Failure(msgProcessingFailed), err
	}
	if b.PaymentMethod != domain.PaymentMethodKhalti {
		return s.redirects.Failure(msgInvalidCallback), domain.ErrInvalidCallbackPayload
	}

	// pidx is only trusted when it is the one stored at initiation.
	if stored := b.GatewayReference(); stored == "" || stored != pidx {
		s.log.Warn("booking.HandleKhaltiCallback pidx not issued for booking",
			zap.Int64("booking_id", b.ID),
			zap.Bool("stored", stored != ""),
		)
		return s.redirects.Failure(msgInvalidCallback), domain.ErrInvalidCallbackPayload
	}

	success := s.redirects.Success(url.Values{"purchase_order_id": {purchaseOrderID}, "pidx": {pidx}})
	return s.redirectFor(ctx, b, success)
}

func (s *BookingService) redirectFor(ctx context.Context, b *domain.Booking, success string) (string, error) {
	outcome, err := s.settle(ctx, b)
	if err != nil {
		s.log.Error("booking.callback settle", zap.Int64("booking_id", b.ID), zap.Error(err))
		return s.redirects.Failure(msgProcessingFailed), err
	}
	if outcome.Booking.PaymentStatus == domain.PaymentStatusCompleted {
		return success, nil
	}
	return s.redirects.Failure("Payment verification failed: " + string(outcome.Status)), domain.ErrVerificationFailed
}
