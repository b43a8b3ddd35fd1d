package clubs

import (
	"database/sql"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateClub(name string) (*Club, error) {
	res, err := r.db.Exec(`INSERT INTO clubs (name) VALUES (?)`, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Club{ID: int(id), Name: name}, nil
}

func (r *Repository) GetClub(id int) (*Club, error) {
	row := r.db.QueryRow(`SELECT id, name, created_at FROM clubs WHERE id=? LIMIT 1`, id)
	var c Club
	if err := row.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// GetMemberRole returns the member's role; found=false when the user does
// not belong to the club.
func (r *Repository) GetMemberRole(clubID, userID int) (Role, bool, error) {
	row := r.db.QueryRow(`SELECT role FROM club_members WHERE club_id=? AND user_id=? LIMIT 1`, clubID, userID)
	var role string
	if err := row.Scan(&role); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return Role(role), true, nil
}

// SetMemberRole overwrites the member's role. Role changes are direct
// overwrites; there is no pending/approval state.
func (r *Repository) SetMemberRole(clubID, userID int, role Role) error {
	_, err := r.db.Exec(`UPDATE club_members SET role=? WHERE club_id=? AND user_id=?`, string(role), clubID, userID)
	return err
}

// AddMember inserts a membership; joining twice keeps the existing role.
func (r *Repository) AddMember(clubID, userID int, role Role) error {
	_, err := r.db.Exec(`INSERT INTO club_members (club_id, user_id, role) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE role=role`, clubID, userID, string(role))
	return err
}

func (r *Repository) ListMembers(clubID int) ([]Membership, error) {
	rows, err := r.db.Query(`SELECT club_id, user_id, role FROM club_members WHERE club_id=? ORDER BY user_id`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members := []Membership{}
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.ClubID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}
