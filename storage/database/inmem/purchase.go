package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/lms/core/purchase"
)

type purchaseRepository struct {
	db *purchaseTable
}

func NewPurchaseRepository(db *DB) purchase.Repository {
	return &purchaseRepository{db: db.purchase}
}

func (repo *purchaseRepository) pending(userID, courseID string) *purchase.Purchase {
	for _, p := range repo.db.table {
		if p.UserID == userID && p.CourseID == courseID && p.IsPending() {
			return p
		}
	}
	return nil
}

func (repo *purchaseRepository) CreatePurchase(_ context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if p.IsPending() && repo.pending(p.UserID, p.CourseID) != nil {
		return purchase.Purchase{}, purchase.ErrConflict
	}
	stored := p
	repo.db.table[p.ID] = &stored
	return p, nil
}

func (repo *purchaseRepository) GetPurchase(_ context.Context, id string) (purchase.Purchase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.table[id]; ok {
		return *p, nil
	}
	return purchase.Purchase{}, purchase.ErrNotFound
}

func (repo *purchaseRepository) GetPendingPurchase(_ context.Context, userID, courseID string) (purchase.Purchase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p := repo.pending(userID, courseID); p != nil {
		return *p, nil
	}
	return purchase.Purchase{}, purchase.ErrNotFound
}

func (repo *purchaseRepository) TransitionPurchase(
	_ context.Context,
	id string,
	from, to purchase.Status,
	reason string,
	at time.Time,
) (purchase.Purchase, bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.table[id]
	if !ok {
		return purchase.Purchase{}, false, purchase.ErrNotFound
	}
	if p.Status != from {
		return *p, false, nil
	}
	p.Status = to
	p.FailureReason = reason
	p.UpdatedAt = at
	return *p, true, nil
}

func (repo *purchaseRepository) RecordSweepAttempt(_ context.Context, id, errMsg string, at time.Time) (purchase.Purchase, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.table[id]
	if !ok {
		return purchase.Purchase{}, purchase.ErrNotFound
	}
	if p.IsPending() {
		p.SweepAttempts++
		p.LastError = errMsg
		p.UpdatedAt = at
	}
	return *p, nil
}

func (repo *purchaseRepository) QueryPendingBefore(
	_ context.Context,
	cutoff time.Time,
	after purchase.Cursor,
	limit int,
) ([]purchase.Purchase, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	stale := make([]purchase.Purchase, 0)
	for _, p := range repo.db.table {
		if p.IsPending() && p.CreatedAt.Before(cutoff) && after.After(*p) {
			stale = append(stale, *p)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].CreatedAt.Equal(stale[j].CreatedAt) {
			return stale[i].ID < stale[j].ID
		}
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
