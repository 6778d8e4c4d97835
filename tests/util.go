package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/user"
	"github.com/trezcool/lms/services/logger"
	"github.com/trezcool/lms/storage/database"
)

// Stores bundles a fresh in-memory store's repositories.
type Stores = database.Stores

func NewStores() Stores {
	return *database.NewInmemStores()
}

// NewLogger returns a Rollbar logger that reports nothing & prints to io.Discard.
func NewLogger() *logsvc.RollbarLogger {
	lgr := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), &core.Config{Env: "TEST", TestMode: true})
	lgr.Enable(false)
	return lgr
}

func CreateUser(t *testing.T, repo user.Repository, id, name string, roles ...user.Role) user.User {
	now := time.Now().UTC()
	usr, err := repo.CreateUser(context.Background(), user.User{
		ID:        id,
		Name:      name,
		Email:     id + "@test.cd",
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, repo course.Repository, id, title string, price int64) course.Course {
	now := time.Now().UTC()
	crs, err := repo.CreateCourse(context.Background(), course.Course{
		ID:          id,
		Title:       title,
		EducatorID:  "educator",
		Price:       decimal.NewFromInt(price),
		IsPublished: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return crs
}

// CreatePurchase stores a purchase directly, bypassing the ledger's rules, e.g. to backdate it.
func CreatePurchase(
	t *testing.T,
	repo purchase.Repository,
	userID, courseID string,
	status purchase.Status,
	createdAt ...time.Time,
) purchase.Purchase {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	p, err := repo.CreatePurchase(context.Background(), purchase.Purchase{
		ID:        uuid.New().String(),
		UserID:    userID,
		CourseID:  courseID,
		Amount:    decimal.NewFromInt(50),
		Status:    status,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("CreatePurchase() failed: %v", err)
	}
	return p
}
