package payment

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody caps inbound webhook payloads. Provider notifications
// are small JSON documents; anything larger is not one of ours.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks. Every readable delivery is
// acknowledged with 200 so networks stop retrying; outcomes are recorded
// in the ledger and the webhook audit table, not in the response code.
type WebhookHandler struct {
	service  *Service
	registry *ProviderRegistry
	logger   *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *Service, registry *ProviderRegistry, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, registry: registry, logger: logger}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/:provider", h.HandleProviderWebhook)
}

// HandleProviderWebhook processes one inbound notification for the
// provider named in the route.
func (h *WebhookHandler) HandleProviderWebhook(c *gin.Context) {
	providerName := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body",
			zap.String("provider", providerName),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	// The signature header differs per provider; ask the adapter.
	var signature string
	if adapter, err := h.registry.GetByName(providerName); err == nil {
		signature = c.GetHeader(adapter.SignatureHeader())
	}

	result := h.service.HandleWebhook(c.Request.Context(), providerName, payload, signature)

	status := "accepted"
	if result.Success {
		status = "processed"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "message": result.Message})
}
