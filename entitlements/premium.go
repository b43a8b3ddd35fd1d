package entitlements

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserLite is the minimal user projection handlers need.
type UserLite struct {
	ID    int
	Email string
}

// userResolver is registered from main so this package stays decoupled from
// the session/user packages.
var userResolver = func(token string) *UserLite { return nil }

// RegisterUserResolver provides the token -> user lookup.
func RegisterUserResolver(fn func(token string) *UserLite) { userResolver = fn }

// ResolveSessionUser extracts the bearer token and resolves the user.
// Returns the user, or nil with a client-facing reason.
func ResolveSessionUser(c *gin.Context) (*UserLite, string) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		return nil, "token required"
	}
	u := userResolver(token)
	if u == nil {
		return nil, "invalid or expired session"
	}
	return u, ""
}

// Gate guards premium-only endpoints: session token -> user -> stored plan.
type Gate struct {
	store EntitlementStore
}

func NewGate(store EntitlementStore) *Gate { return &Gate{store: store} }

// RequirePremium aborts with 403 unless the caller's stored plan is premium.
// PREMIUM_DISABLE=1 bypasses the check entirely for debugging.
func (g *Gate) RequirePremium() gin.HandlerFunc {
	return func(c *gin.Context) {
		if os.Getenv("PREMIUM_DISABLE") == "1" {
			log.Printf("[PREMIUM][bypass] PREMIUM_DISABLE=1")
			c.Next()
			return
		}
		u, errMsg := ResolveSessionUser(c)
		if u == nil {
			log.Printf("[PREMIUM][deny] reason=%s", errMsg)
			c.JSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			c.Abort()
			return
		}
		e, err := g.store.GetEntitlement(c.Request.Context(), u.ID)
		if err != nil {
			log.Printf("[PREMIUM][error] user_id=%d err=%v", u.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		if e == nil || e.Plan != PlanPremium {
			log.Printf("[PREMIUM][deny] user_id=%d reason=not_premium", u.ID)
			c.JSON(http.StatusForbidden, gin.H{"error": "premium plan required"})
			c.Abort()
			return
		}
		c.Set("entitlement_plan", string(e.Plan))
		c.Next()
	}
}
