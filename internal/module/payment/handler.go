package payment

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/egovpay/server/internal/module/payment/provider"
	apperrors "github.com/egovpay/server/internal/shared/errors"
)

// Handler handles HTTP requests for the payment ledger.
type Handler struct {
	service *Service
	names   NameDirectory
}

// NewHandler creates a new payment handler. names may be nil.
func NewHandler(service *Service, names NameDirectory) *Handler {
	return &Handler{service: service, names: names}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.InitiatePayment)
		payments.GET("", h.ListPayments)
		payments.GET("/stats", h.GetStats)
		payments.GET("/export", h.ExportCSV)
		payments.GET("/reference/:reference", h.GetByReference)
		payments.GET("/:id", h.GetPayment)
		payments.POST("/:id/verify", h.VerifyPayment)
		payments.POST("/:id/refund", h.RefundPayment)
	}
}

// InitiatePayment starts a charge on a mobile money network.
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "XAF"
	}

	p, err := h.service.InitiatePayment(c.Request.Context(), InitiateParams{
		Amount:        req.Amount,
		Currency:      currency,
		Method:        Method(req.Method),
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
		UserID:        currentUserID(c),
		RequestID:     req.RequestID,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p.ToResponse())
}

// GetPayment returns a ledger row by id.
func (h *Handler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	p, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p.ToResponse())
}

// GetByReference returns a ledger row by correlation reference.
func (h *Handler) GetByReference(c *gin.Context) {
	p, err := h.service.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p.ToResponse())
}

// ListPayments returns a filtered page of the ledger.
func (h *Handler) ListPayments(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payments, total, err := h.service.ListPayments(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	resp := ListResponse{
		Payments: make([]Response, 0, len(payments)),
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, p.ToResponse())
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyPayment polls the network and returns the refreshed row.
func (h *Handler) VerifyPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	p, err := h.service.VerifyPayment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p.ToResponse())
}

// RefundPayment reverses all or part of a settled charge.
func (h *Handler) RefundPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount := req.Amount
	if amount == 0 {
		p, err := h.service.GetPayment(c.Request.Context(), id)
		if err != nil {
			handleError(c, err)
			return
		}
		amount = p.Amount
	}

	refund, err := h.service.RefundPayment(c.Request.Context(), id, amount, req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, refund.ToResponse())
}

// GetStats returns the ledger rollup for a reporting window.
func (h *Handler) GetStats(c *gin.Context) {
	from, to, err := windowFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var method Method
	if raw := c.Query("method"); raw != "" {
		m, ok := ParseMethod(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment method"})
			return
		}
		method = m
	}

	stats, err := h.service.GetStats(c.Request.Context(), from, to, method)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportCSV streams the filtered ledger as a CSV download.
func (h *Handler) ExportCSV(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("payments-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.service.ExportCSV(c.Request.Context(), c.Writer, filter, h.names); err != nil {
		// Headers may already be gone; log and abort the stream.
		_ = c.Error(err)
		c.Abort()
	}
}

// --- Helpers ---

func filterFromQuery(c *gin.Context) (Filter, error) {
	var filter Filter

	if raw := c.Query("status"); raw != "" {
		switch Status(raw) {
		case StatusPending, StatusCompleted, StatusFailed:
			filter.Status = Status(raw)
		default:
			return filter, fmt.Errorf("unknown status %q", raw)
		}
	}
	if raw := c.Query("method"); raw != "" {
		method, ok := ParseMethod(raw)
		if !ok {
			return filter, fmt.Errorf("unknown payment method %q", raw)
		}
		filter.Method = method
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp: %w", err)
		}
		filter.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp: %w", err)
		}
		filter.To = t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = n
	}
	return filter, nil
}

// windowFromQuery parses the reporting window, defaulting to the last
// 30 days.
func windowFromQuery(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid from timestamp: %w", err)
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid to timestamp: %w", err)
		}
		to = t
	}
	if !to.After(from) {
		return from, to, errors.New("window end must be after start")
	}
	return from, to, nil
}

func currentUserID(c *gin.Context) *uuid.UUID {
	val, exists := c.Get("user_id")
	if !exists {
		return nil
	}
	id, ok := val.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return nil
	}
	return &id
}

func isUnavailable(err error) bool {
	return errors.Is(err, provider.ErrUnavailable)
}

// toAppError maps domain errors onto transport error codes.
func toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return apperrors.NotFound("payment")
	case errors.Is(err, ErrValidation):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, ErrRefundNotEligible):
		return apperrors.Conflict(err.Error())
	case errors.Is(err, ErrProviderNotFound):
		return apperrors.BadRequest(err.Error())
	case errors.Is(err, ErrDuplicateReference):
		return apperrors.Conflict(err.Error())
	case isUnavailable(err):
		return apperrors.Unavailable("payment provider unavailable, try again later", err)
	default:
		return apperrors.Internal("internal error", err)
	}
}

func handleError(c *gin.Context, err error) {
	appErr := toAppError(err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
