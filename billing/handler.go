package billing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cineclub-backend/entitlements"
)

// Handler exposes checkout and webhook endpoints over gin.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/checkout", h.checkout)
	r.GET("/checkout/confirm", h.confirm)
	r.POST("/stripe/webhook", h.webhook)
}

func (h *Handler) checkout(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	u, errMsg := entitlements.ResolveSessionUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMsg})
		return
	}
	url, sessionID, err := h.svc.CreateCheckoutSession(c.Request.Context(), u.ID)
	if err != nil {
		if errors.Is(err, ErrStripeInvalidAPIKey) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing temporarily unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
}

// confirm lets the app poll a checkout session after the success redirect,
// covering the window before the webhook arrives.
func (h *Handler) confirm(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	done, err := h.svc.ConfirmSession(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": done})
}

func (h *Handler) webhook(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	if err := h.svc.HandleWebhook(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
