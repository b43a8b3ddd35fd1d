package clubs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"cineclub-backend/entitlements"
)

type fakeMembershipStore struct {
	clubs   map[int]*Club
	roles   map[[2]int]Role // [clubID, userID]
	nextID  int
	setLogs [][3]any
}

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{clubs: map[int]*Club{}, roles: map[[2]int]Role{}, nextID: 1}
}

func (f *fakeMembershipStore) CreateClub(name string) (*Club, error) {
	c := &Club{ID: f.nextID, Name: name}
	f.clubs[c.ID] = c
	f.nextID++
	return c, nil
}

func (f *fakeMembershipStore) GetClub(id int) (*Club, error) {
	return f.clubs[id], nil
}

func (f *fakeMembershipStore) GetMemberRole(clubID, userID int) (Role, bool, error) {
	r, ok := f.roles[[2]int{clubID, userID}]
	return r, ok, nil
}

func (f *fakeMembershipStore) SetMemberRole(clubID, userID int, role Role) error {
	f.roles[[2]int{clubID, userID}] = role
	f.setLogs = append(f.setLogs, [3]any{clubID, userID, role})
	return nil
}

func (f *fakeMembershipStore) AddMember(clubID, userID int, role Role) error {
	key := [2]int{clubID, userID}
	if _, ok := f.roles[key]; !ok {
		f.roles[key] = role
	}
	return nil
}

func (f *fakeMembershipStore) ListMembers(clubID int) ([]Membership, error) {
	members := []Membership{}
	for k, r := range f.roles {
		if k[0] == clubID {
			members = append(members, Membership{ClubID: k[0], UserID: k[1], Role: r})
		}
	}
	return members, nil
}

func setupClubRouter(t *testing.T, store MembershipStore) *gin.Engine {
	t.Helper()
	entitlements.RegisterUserResolver(func(token string) *entitlements.UserLite {
		switch token {
		case "tok-president":
			return &entitlements.UserLite{ID: 1, Email: "president@cineclub.local"}
		case "tok-member":
			return &entitlements.UserLite{ID: 2, Email: "member@cineclub.local"}
		}
		return nil
	})
	t.Cleanup(func() {
		entitlements.RegisterUserResolver(func(token string) *entitlements.UserLite { return nil })
	})
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store).RegisterRoutes(r)
	return r
}

func putRole(r *gin.Engine, token, path, role string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(map[string]string{"role": role})
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAssignRole_happyPath(t *testing.T) {
	store := newFakeMembershipStore()
	store.roles[[2]int{1, 1}] = RolePresident
	store.roles[[2]int{1, 2}] = RoleMember
	r := setupClubRouter(t, store)

	w := putRole(r, "tok-president", "/clubs/1/members/2/role", "editor")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.roles[[2]int{1, 2}] != RoleEditor {
		t.Fatalf("role not persisted: %s", store.roles[[2]int{1, 2}])
	}
}

func TestAssignRole_nonPresidentDenied(t *testing.T) {
	store := newFakeMembershipStore()
	store.roles[[2]int{1, 1}] = RolePresident
	store.roles[[2]int{1, 2}] = RoleMember
	r := setupClubRouter(t, store)

	w := putRole(r, "tok-member", "/clubs/1/members/1/role", "member")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(store.setLogs) != 0 {
		t.Fatalf("nothing must be persisted on deny")
	}
}

func TestAssignRole_selfDenied(t *testing.T) {
	store := newFakeMembershipStore()
	store.roles[[2]int{1, 1}] = RolePresident
	r := setupClubRouter(t, store)

	w := putRole(r, "tok-president", "/clubs/1/members/1/role", "member")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on self-assignment, got %d", w.Code)
	}
}

func TestAssignRole_invalidRole(t *testing.T) {
	store := newFakeMembershipStore()
	store.roles[[2]int{1, 1}] = RolePresident
	store.roles[[2]int{1, 2}] = RoleMember
	r := setupClubRouter(t, store)

	w := putRole(r, "tok-president", "/clubs/1/members/2/role", "overlord")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if len(store.setLogs) != 0 {
		t.Fatalf("invalid role must be rejected before persistence")
	}
}

func TestAssignRole_targetNotMember(t *testing.T) {
	store := newFakeMembershipStore()
	store.roles[[2]int{1, 1}] = RolePresident
	r := setupClubRouter(t, store)

	w := putRole(r, "tok-president", "/clubs/1/members/9/role", "editor")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAssignRole_requiresSession(t *testing.T) {
	r := setupClubRouter(t, newFakeMembershipStore())
	w := putRole(r, "", "/clubs/1/members/2/role", "editor")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateClub_founderIsPresident(t *testing.T) {
	store := newFakeMembershipStore()
	r := setupClubRouter(t, store)

	b, _ := json.Marshal(map[string]string{"name": "Midnight Screening Society"})
	req := httptest.NewRequest(http.MethodPost, "/clubs", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-president")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if store.roles[[2]int{1, 1}] != RolePresident {
		t.Fatalf("founder must start as president, got %s", store.roles[[2]int{1, 1}])
	}
}
