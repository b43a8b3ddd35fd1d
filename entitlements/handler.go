package entitlements

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler exposes the reconcile trigger and the entitlement read endpoint.
type Handler struct {
	rec   *Reconciler
	store EntitlementStore
}

func NewHandler(rec *Reconciler, store EntitlementStore) *Handler {
	return &Handler{rec: rec, store: store}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// Invoked by the external cron scheduler; no body required.
	r.POST("/reconcile", h.reconcile)
	r.GET("/entitlements/me", h.getMine)
}

// reconcile runs one reconciliation pass. Individual customer failures are
// reported inside the summary with a 200; only a customer-list load failure
// produces a non-200, since in that case nothing was written.
func (h *Handler) reconcile(c *gin.Context) {
	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		provided := c.GetHeader("X-Cron-Secret")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if provided != secret {
			log.Printf("[RECONCILE][deny] bad or missing cron secret")
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
	}
	summary, err := h.rec.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}

func (h *Handler) getMine(c *gin.Context) {
	u, errMsg := ResolveSessionUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMsg})
		return
	}
	e, err := h.store.GetEntitlement(c.Request.Context(), u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if e == nil {
		// Never subscribed: report free with no period dates.
		e = &Entitlement{Plan: PlanFree}
	}
	resp := gin.H{"plan": e.Plan, "cancel_at_period_end": e.CancelAtPeriodEnd}
	if e.StartedAt != nil {
		resp["started_at"] = e.StartedAt.Format(time.RFC3339)
	}
	if e.ExpiresAt != nil {
		resp["expires_at"] = e.ExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
