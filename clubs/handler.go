package clubs

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cineclub-backend/entitlements"
)

// MembershipStore is what the handler needs from persistence; satisfied by
// *Repository and by test fakes.
type MembershipStore interface {
	CreateClub(name string) (*Club, error)
	GetClub(id int) (*Club, error)
	GetMemberRole(clubID, userID int) (Role, bool, error)
	SetMemberRole(clubID, userID int, role Role) error
	AddMember(clubID, userID int, role Role) error
	ListMembers(clubID int) ([]Membership, error)
}

// roleChangeNotifier is wired to the mailer from main. Best effort only.
var roleChangeNotifier = func(targetUserID int, role Role) {}

// RegisterRoleChangeNotifier sets the post-assignment notification hook.
func RegisterRoleChangeNotifier(fn func(targetUserID int, role Role)) { roleChangeNotifier = fn }

type Handler struct {
	store MembershipStore
}

func NewHandler(store MembershipStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/clubs", h.createClub)
	r.POST("/clubs/:id/join", h.join)
	r.GET("/clubs/:id/members", h.listMembers)
	r.PUT("/clubs/:id/members/:user_id/role", h.assignRole)
}

func (h *Handler) createClub(c *gin.Context) {
	u, errMsg := entitlements.ResolveSessionUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMsg})
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	club, err := h.store.CreateClub(body.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// The founder starts as president.
	if err := h.store.AddMember(club.ID, u.ID, RolePresident); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, club)
}

func (h *Handler) join(c *gin.Context) {
	u, errMsg := entitlements.ResolveSessionUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMsg})
		return
	}
	clubID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid club id"})
		return
	}
	club, err := h.store.GetClub(clubID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if club == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "club not found"})
		return
	}
	if err := h.store.AddMember(clubID, u.ID, RoleMember); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listMembers(c *gin.Context) {
	clubID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid club id"})
		return
	}
	members, err := h.store.ListMembers(clubID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": members})
}

// assignRole changes a member's role. The requested role is validated before
// the gate runs: an unknown role is an input error, not an authorization
// decision. Persistence happens only when the gate allows.
func (h *Handler) assignRole(c *gin.Context) {
	actor, errMsg := entitlements.ResolveSessionUser(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errMsg})
		return
	}
	clubID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid club id"})
		return
	}
	targetID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var body struct {
		Role Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if !ValidRole(body.Role) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid role"})
		return
	}
	actorRole, found, err := h.store.GetMemberRole(clubID, actor.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	isPresident := found && actorRole == RolePresident
	if !CanAssignRole(isPresident, actor.ID, targetID, true) {
		log.Printf("[CLUBS][deny] club=%d actor=%d target=%d role=%s president=%t", clubID, actor.ID, targetID, body.Role, isPresident)
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}
	_, targetFound, err := h.store.GetMemberRole(clubID, targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !targetFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}
	if err := h.store.SetMemberRole(clubID, targetID, body.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Printf("[CLUBS][role] club=%d actor=%d target=%d role=%s", clubID, actor.ID, targetID, body.Role)
	go roleChangeNotifier(targetID, body.Role)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
