package api

import (
	"net/http"
	"strconv"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service booking.BookingUseCase
	log     *zap.Logger
}

type createBookingRequest struct {
	SlotID        int64            `json:"slot_id" binding:"required,gt=0"`
	UserID        int64            `json:"user_id" binding:"required,gt=0"`
	PaymentMethod string           `json:"payment_method" binding:"required"`
	Price         *decimal.Decimal `json:"price" binding:"required"`
	TransactionID string           `json:"transaction_id"`
}

type checkStatusRequest struct {
	BookingID int64 `json:"booking_id" binding:"required,gt=0"`
}

type bookingResponse struct {
	Booking *domain.Booking `json:"booking"`
	// NextStep tells gateway clients to call the initiate endpoint.
	NextStep string `json:"next_step,omitempty"`
}

func NewBookingHandler(service booking.BookingUseCase, log *zap.Logger) *BookingHandler {
	return &BookingHandler{service: service, log: log}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.listByUser)
	router.POST("/check-status", h.checkStatus)
	router.GET("/callback", h.callback)
	router.POST("/callback", h.callback)
	router.GET("/callback/khalti", h.khaltiCallback)
	router.GET("/:id", h.get)
	router.POST("/:id/initiate-gateway", h.initiate)
	router.POST("/:id/initiate-esewa", h.initiate)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		SlotID:         req.SlotID,
		UserID:         req.UserID,
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		Price:          *req.Price,
		TransactionRef: req.TransactionID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	resp := bookingResponse{Booking: b}
	if b.PaymentMethod.IsGateway() {
		resp.NextStep = "/bookings/" + strconv.FormatInt(b.ID, 10) + "/initiate-gateway"
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *BookingHandler) listByUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	bookings, err := h.service.ListUserBookings(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *BookingHandler) get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	b, err := h.service.GetBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, bookingResponse{Booking: b})
}

func (h *BookingHandler) initiate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	initiation, err := h.service.InitiatePayment(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, initiation)
}

func (h *BookingHandler) checkStatus(c *gin.Context) {
	var req checkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome, err := h.service.CheckStatus(c.Request.Context(), req.BookingID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if outcome.Booking.PaymentStatus == domain.PaymentStatusCompleted {
		c.JSON(http.StatusOK, gin.H{"status": string(domain.PaymentStatusCompleted)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"status": string(outcome.Status)})
}

// callback is where eSewa sends the payer back. It always answers with a
// redirect to the frontend.
func (h *BookingHandler) callback(c *gin.Context) {
	data := c.Query("data")
	if data == "" {
		data = c.PostForm("data")
	}
	target, err := h.service.HandleCallback(c.Request.Context(), data)
	if err != nil {
		h.log.Info("api.callback redirecting to failure", zap.Error(err))
	}
	c.Redirect(http.StatusFound, target)
}

func (h *BookingHandler) khaltiCallback(c *gin.Context) {
	target, err := h.service.HandleKhaltiCallback(c.Request.Context(), c.Query("purchase_order_id"), c.Query("pidx"))
	if err != nil {
		h.log.Info("api.khaltiCallback redirecting to failure", zap.Error(err))
	}
	c.Redirect(http.StatusFound, target)
}
