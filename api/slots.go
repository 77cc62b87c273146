package api

import (
	"net/http"
	"strconv"

	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/Domenick1991/docbooking/internal/service/slots"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SlotHandler struct {
	service slots.SlotUseCase
	log     *zap.Logger
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func NewSlotHandler(service slots.SlotUseCase, log *zap.Logger) *SlotHandler {
	return &SlotHandler{service: service, log: log}
}

func (h *SlotHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.PATCH("/:id/status", h.setStatus)
	router.DELETE("/:id", h.delete)
}

func (h *SlotHandler) create(c *gin.Context) {
	var req slots.CreateSlotInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, slot)
}

func (h *SlotHandler) list(c *gin.Context) {
	var doctorID int64
	if v := c.Query("doctor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid doctor_id"})
			return
		}
		doctorID = id
	}
	availableOnly := true
	if v := c.Query("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid available flag"})
			return
		}
		availableOnly = b
	}

	result, err := h.service.List(c.Request.Context(), doctorID, availableOnly)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": result})
}

func (h *SlotHandler) get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	slot, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (h *SlotHandler) setStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := h.service.SetStatus(c.Request.Context(), id, domain.SlotStatus(req.Status))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (h *SlotHandler) delete(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
