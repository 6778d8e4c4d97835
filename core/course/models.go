package course

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/lms/core"
)

var ErrNotFound = errors.New("course not found")

type Course struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	EducatorID       string          `json:"educator_id"`
	Price            decimal.Decimal `json:"price"`
	IsPublished      bool            `json:"is_published"`
	EnrolledStudents []string        `json:"enrolled_students"`
	CreatedAt        time.Time       `json:"created_at"` // UTC
	UpdatedAt        time.Time       `json:"updated_at"` // UTC
}

// HasStudent reports whether userID is in the course's enrolled-students set.
func (c *Course) HasStudent(userID string) bool {
	for _, id := range c.EnrolledStudents {
		if id == userID {
			return true
		}
	}
	return false
}

// AddEnrolledStudent adds userID to the enrolled-students set; it returns false when it was already there.
func (c *Course) AddEnrolledStudent(userID string) bool {
	if c.HasStudent(userID) {
		return false
	}
	c.EnrolledStudents = append(c.EnrolledStudents, userID)
	return true
}

// RemoveEnrolledStudent drops userID from the enrolled-students set; it returns false when it was not there.
func (c *Course) RemoveEnrolledStudent(userID string) bool {
	for i, id := range c.EnrolledStudents {
		if id == userID {
			c.EnrolledStudents = append(c.EnrolledStudents[:i:i], c.EnrolledStudents[i+1:]...)
			return true
		}
	}
	return false
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title      string          `json:"title" validate:"required,max=200"`
	EducatorID string          `json:"educator_id" validate:"required,entityid"`
	Price      decimal.Decimal `json:"price"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.EducatorID = core.CleanString(nc.EducatorID)
	if err := validate.Struct(nc); err != nil {
		return err
	}
	if nc.Price.IsNegative() {
		return core.NewValidationError(nil, core.FieldError{Field: "price", Error: "price cannot be negative"})
	}
	return nil
}

type Repository interface {
	CreateCourse(ctx context.Context, c Course) (Course, error)
	// GetCourse returns ErrNotFound when no course has the given id.
	GetCourse(ctx context.Context, id string) (Course, error)
	// SaveCourse persists the record. The enrolled-students set is merged into the stored one, never shrunk.
	SaveCourse(ctx context.Context, c Course) error
	// UnenrollStudent removes userID from the course's enrolled set, and only that entry.
	UnenrollStudent(ctx context.Context, courseID, userID string) error
	DeleteCourse(ctx context.Context, id string) error
}
