package request

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/egovpay/server/internal/shared/errors"
)

// Handler handles HTTP requests for service requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new service request handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the service request routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	requests := r.Group("/requests")
	{
		requests.POST("", h.Create)
		requests.GET("", h.List)
		requests.GET("/number/:number", h.GetByNumber)
		requests.GET("/:id", h.Get)
		requests.POST("/:id/cancel", h.Cancel)
	}
}

// CreateRequest is the inbound payload for a new service request.
type CreateRequest struct {
	ServiceType string `json:"service_type" binding:"required"`
	Description string `json:"description"`
	FeeAmount   int64  `json:"fee_amount" binding:"required,gt=0"`
	Currency    string `json:"currency"`
}

// Create registers a new service request.
func (h *Handler) Create(c *gin.Context) {
	userID := currentUserID(c)
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.Create(c.Request.Context(), CreateParams{
		UserID:      userID,
		ServiceType: req.ServiceType,
		Description: req.Description,
		FeeAmount:   req.FeeAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// Get returns one service request.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// GetByNumber returns one service request by tracking number.
func (h *Handler) GetByNumber(c *gin.Context) {
	req, err := h.service.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// List returns a page of the caller's requests.
func (h *Handler) List(c *gin.Context) {
	userID := currentUserID(c)
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	reqs, total, err := h.service.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": reqs, "total": total})
}

// Cancel withdraws an unpaid request.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}

	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func currentUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func handleError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, ErrRequestNotFound):
		appErr = apperrors.NotFound("service request")
	case errors.Is(err, ErrNotPayable):
		appErr = apperrors.Conflict(err.Error())
	default:
		appErr = apperrors.Internal("internal error", err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
