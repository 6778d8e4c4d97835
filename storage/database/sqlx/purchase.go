package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/purchase"
)

const (
	onePendingIndex = "purchases_one_pending_idx"
	purchaseColumns = "id, user_id, course_id, amount, status, failure_reason, sweep_attempts, last_error, created_at, updated_at"
)

type purchaseRow struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	CourseID      string          `db:"course_id"`
	Amount        decimal.Decimal `db:"amount"`
	Status        string          `db:"status"`
	FailureReason string          `db:"failure_reason"`
	SweepAttempts int             `db:"sweep_attempts"`
	LastError     string          `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (row purchaseRow) toPurchase() purchase.Purchase {
	return purchase.Purchase{
		ID:            row.ID,
		UserID:        row.UserID,
		CourseID:      row.CourseID,
		Amount:        row.Amount,
		Status:        purchase.Status(row.Status),
		FailureReason: row.FailureReason,
		SweepAttempts: row.SweepAttempts,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

type purchaseRepository struct {
	db core.DBExecutor
}

func NewPurchaseRepository(db core.DBExecutor) purchase.Repository {
	return &purchaseRepository{db: db}
}

func (repo *purchaseRepository) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.UserID, p.CourseID, p.Amount, string(p.Status), p.FailureReason, p.SweepAttempts, p.LastError, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolationOn(err); ok && constraint == onePendingIndex {
			return purchase.Purchase{}, purchase.ErrConflict
		}
		return purchase.Purchase{}, errors.Wrap(err, "inserting purchase")
	}
	return p, nil
}

func (repo *purchaseRepository) get(ctx context.Context, query string, args ...interface{}) (purchase.Purchase, error) {
	var row purchaseRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return purchase.Purchase{}, purchase.ErrNotFound
		}
		return purchase.Purchase{}, err
	}
	return row.toPurchase(), nil
}

func (repo *purchaseRepository) GetPurchase(ctx context.Context, id string) (purchase.Purchase, error) {
	p, err := repo.get(ctx, "SELECT "+purchaseColumns+" FROM purchases WHERE id = $1", id)
	if err != nil && !errors.Is(err, purchase.ErrNotFound) {
		return p, errors.Wrap(err, "selecting purchase")
	}
	return p, err
}

func (repo *purchaseRepository) GetPendingPurchase(ctx context.Context, userID, courseID string) (purchase.Purchase, error) {
	p, err := repo.get(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE user_id = $1 AND course_id = $2 AND status = 'pending'`,
		userID, courseID,
	)
	if err != nil && !errors.Is(err, purchase.ErrNotFound) {
		return p, errors.Wrap(err, "selecting pending purchase")
	}
	return p, err
}

func (repo *purchaseRepository) TransitionPurchase(
	ctx context.Context,
	id string,
	from, to purchase.Status,
	reason string,
	at time.Time,
) (purchase.Purchase, bool, error) {
	p, err := repo.get(ctx, `
		UPDATE purchases SET status = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+purchaseColumns,
		id, string(from), string(to), reason, at,
	)
	switch {
	case err == nil:
		return p, true, nil
	case errors.Is(err, purchase.ErrNotFound):
		// either unknown, or not in `from` anymore
		p, err = repo.GetPurchase(ctx, id)
		return p, false, err
	default:
		return purchase.Purchase{}, false, errors.Wrap(err, "updating purchase status")
	}
}

func (repo *purchaseRepository) RecordSweepAttempt(ctx context.Context, id, errMsg string, at time.Time) (purchase.Purchase, error) {
	p, err := repo.get(ctx, `
		UPDATE purchases SET sweep_attempts = sweep_attempts + 1, last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+purchaseColumns,
		id, errMsg, at,
	)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, purchase.ErrNotFound):
		return repo.GetPurchase(ctx, id)
	default:
		return purchase.Purchase{}, errors.Wrap(err, "recording sweep attempt")
	}
}

func (repo *purchaseRepository) QueryPendingBefore(
	ctx context.Context,
	cutoff time.Time,
	after purchase.Cursor,
	limit int,
) ([]purchase.Purchase, error) {
	var (
		rows []purchaseRow
		err  error
	)
	if after.IsZero() {
		err = repo.db.SelectContext(ctx, &rows, `
			SELECT `+purchaseColumns+` FROM purchases
			WHERE status = 'pending' AND created_at < $1
			ORDER BY created_at, id
			LIMIT $2`,
			cutoff, limit,
		)
	} else {
		err = repo.db.SelectContext(ctx, &rows, `
			SELECT `+purchaseColumns+` FROM purchases
			WHERE status = 'pending' AND created_at < $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at, id
			LIMIT $4`,
			cutoff, after.CreatedAt, after.ID, limit,
		)
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting stale purchases")
	}

	purchases := make([]purchase.Purchase, 0, len(rows))
	for _, row := range rows {
		purchases = append(purchases, row.toPurchase())
	}
	return purchases, nil
}
