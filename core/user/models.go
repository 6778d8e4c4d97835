package user

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/lms/core"
)

// Role is a closed set of portal roles.
type Role string

const (
	RoleStudent  Role = "student"
	RoleEducator Role = "educator"
	RoleAdmin    Role = "admin"
)

var (
	AllRoles = []Role{RoleStudent, RoleEducator, RoleAdmin}

	// errors
	ErrNotFound   = errors.New("user not found")
	ErrUserExists = errors.New("a user with this id or email already exists")
)

// Valid reports whether r is one of AllRoles.
func (r Role) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// ParseRoles drops every unknown role.
func ParseRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))
	for _, s := range raw {
		if r := Role(core.CleanString(s, true /* lower */)); r.Valid() {
			roles = append(roles, r)
		}
	}
	return roles
}

// Strings is the inverse of ParseRoles.
func Strings(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Roles           []Role    `json:"roles"`
	EnrolledCourses []string  `json:"enrolled_courses"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool    { return u.HasRole(RoleAdmin) }
func (u *User) IsEducator() bool { return u.HasRole(RoleEducator) }
func (u *User) IsStudent() bool  { return u.HasRole(RoleStudent) }

// IsEnrolledIn reports whether courseID is in the user's enrolled-courses set.
func (u *User) IsEnrolledIn(courseID string) bool {
	for _, id := range u.EnrolledCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

// AddEnrolledCourse adds courseID to the enrolled-courses set; it returns false when it was already there.
func (u *User) AddEnrolledCourse(courseID string) bool {
	if u.IsEnrolledIn(courseID) {
		return false
	}
	u.EnrolledCourses = append(u.EnrolledCourses, courseID)
	return true
}

// RemoveEnrolledCourse drops courseID from the enrolled-courses set; it returns false when it was not there.
func (u *User) RemoveEnrolledCourse(courseID string) bool {
	for i, id := range u.EnrolledCourses {
		if id == courseID {
			u.EnrolledCourses = append(u.EnrolledCourses[:i:i], u.EnrolledCourses[i+1:]...)
			return true
		}
	}
	return false
}

// NewUser contains information needed to register a User mirrored from the identity provider.
type NewUser struct {
	ID    string   `json:"id" validate:"required,entityid"`
	Name  string   `json:"name" validate:"required"`
	Email string   `json:"email" validate:"omitempty,email"`
	Roles []string `json:"roles" validate:"omitempty,dive,oneof=student educator admin"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.ID = core.CleanString(nu.ID)
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	for i := range nu.Roles {
		nu.Roles[i] = core.CleanString(nu.Roles[i], true /* lower */)
	}
	return validate.Struct(nu)
}

type Repository interface {
	CreateUser(ctx context.Context, usr User) (User, error)
	// GetUser returns ErrNotFound when no user has the given id.
	GetUser(ctx context.Context, id string) (User, error)
	// SaveUser persists the record. The enrolled-courses set is merged into the stored one, never shrunk,
	// so concurrent enrollments of one user do not overwrite each other.
	SaveUser(ctx context.Context, usr User) error
	// UnenrollCourse removes courseID from the user's enrolled set, and only that entry.
	UnenrollCourse(ctx context.Context, userID, courseID string) error
}
