package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrSlotNotFound), errors.Is(err, domain.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlotUnavailable), errors.Is(err, domain.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidBooking),
		errors.Is(err, domain.ErrInvalidSlot),
		errors.Is(err, domain.ErrUnsupportedPaymentMethod),
		errors.Is(err, domain.ErrInvalidCallbackPayload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as JSON. Server-side failures get a fixed message so
// that nothing internal reaches the client.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	code := httpStatus(err)
	if code < http.StatusInternalServerError {
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	log.Error("api request failed", zap.String("path", c.FullPath()), zap.Error(err))
	msg := "internal server error"
	if errors.Is(err, domain.ErrConfiguration) {
		msg = domain.ErrConfiguration.Error()
	}
	c.JSON(code, gin.H{"error": msg})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
