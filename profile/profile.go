package profile

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"cineclub-backend/entitlements"
	"cineclub-backend/login"
	"cineclub-backend/migrations"

	"github.com/gin-gonic/gin"
)

// Handler serves the caller's own profile, with the current entitlement
// attached so the app can gate premium features without a second request.
type Handler struct {
	store entitlements.EntitlementStore
}

func NewHandler(store entitlements.EntitlementStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers profile endpoints
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/profile", h.getProfile)
	r.POST("/profile", h.updateProfile)
}

func currentUser(c *gin.Context) *migrations.User {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		return nil
	}
	email, ok := login.GetEmailFromToken(token)
	if !ok {
		return nil
	}
	return migrations.GetUserByEmail(email)
}

func (h *Handler) getProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return
	}
	resp := gin.H{
		"id":         user.ID,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"email":      user.Email,
		"full_name":  user.FirstName + " " + user.LastName,
		"created_at": user.CreatedAt.Format(time.RFC3339),
		"updated_at": user.UpdatedAt.Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	e, err := h.store.GetEntitlement(ctx, user.ID)
	if err != nil {
		log.Printf("[PROFILE][GET] fetch entitlement failed for userID=%d: %v", user.ID, err)
	}
	if e == nil {
		e = &entitlements.Entitlement{Plan: entitlements.PlanFree}
	}
	ent := gin.H{"plan": e.Plan, "cancel_at_period_end": e.CancelAtPeriodEnd}
	if e.ExpiresAt != nil {
		ent["expires_at"] = e.ExpiresAt.Format(time.RFC3339)
	}
	resp["entitlement"] = ent
	log.Printf("[PROFILE][GET] success id=%d email=%s plan=%s", user.ID, user.Email, e.Plan)
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (h *Handler) updateProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return
	}
	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := migrations.UpdateUserProfile(user.ID, body.FirstName, body.LastName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
