package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/tutorly/core"
)

// Roles
const (
	// Admin
	RoleAdmin = "admin:"

	// Principal funds and books sessions for their school
	RolePrincipal = "principal:"

	// Tutor
	RoleTutor = "tutor:"

	// Student
	RoleStudent = "student:"
)

var (
	AllRoles = []string{RoleAdmin, RolePrincipal, RoleTutor, RoleStudent}

	rolePriorities = map[string]int{
		RoleAdmin:     30,
		RolePrincipal: 20,
		RoleTutor:     11,
		RoleStudent:   1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Tutor", Value: RoleTutor},
		{Name: "Principal", Value: RolePrincipal},
		{Name: "Admin", Value: RoleAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, Username: u.Username, Email: u.Email, Roles: u.Roles}
}

func (u *User) IsAdmin() bool     { return hasRole(u.Roles, RoleAdmin) }
func (u *User) IsPrincipal() bool { return hasRole(u.Roles, RolePrincipal) }
func (u *User) IsTutor() bool     { return hasRole(u.Roles, RoleTutor) }
func (u *User) IsStudent() bool   { return hasRole(u.Roles, RoleStudent) }

// Identity is the authenticated caller of an operation. It is always passed explicitly.
type Identity struct {
	ID       string
	Name     string
	Username string
	Email    string
	Roles    []string
}

func (id Identity) IsAdmin() bool     { return hasRole(id.Roles, RoleAdmin) }
func (id Identity) IsPrincipal() bool { return hasRole(id.Roles, RolePrincipal) }
func (id Identity) IsTutor() bool     { return hasRole(id.Roles, RoleTutor) }
func (id Identity) IsStudent() bool   { return hasRole(id.Roles, RoleStudent) }

func hasRole(roles []string, prefix string) bool {
	for _, role := range roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

// School is a group of students whose sessions are funded by its principal.
type School struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PrincipalID string    `json:"principal_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=3,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// NewSchool contains information needed to register a School.
type NewSchool struct {
	Name        string `json:"name" validate:"required,notblank"`
	PrincipalID string `json:"principal_id" validate:"required,uuid"`
}

type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail []string
}

type QueryFilter struct {
	Search   string   `query:"search"`
	Roles    []string `query:"role"`
	IsActive *bool    `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
