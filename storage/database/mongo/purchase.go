package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/lms/core/purchase"
)

type purchaseDoc struct {
	ID            string               `bson:"_id"`
	UserID        string               `bson:"user_id"`
	CourseID      string               `bson:"course_id"`
	Amount        primitive.Decimal128 `bson:"amount"`
	Status        string               `bson:"status"`
	FailureReason string               `bson:"failure_reason"`
	SweepAttempts int                  `bson:"sweep_attempts"`
	LastError     string               `bson:"last_error"`
	CreatedAt     time.Time            `bson:"created_at"`
	UpdatedAt     time.Time            `bson:"updated_at"`
}

func (doc purchaseDoc) toPurchase() (purchase.Purchase, error) {
	amount, err := fromDecimal128(doc.Amount)
	if err != nil {
		return purchase.Purchase{}, errors.Wrapf(err, "purchase %s: decoding amount", doc.ID)
	}
	return purchase.Purchase{
		ID:            doc.ID,
		UserID:        doc.UserID,
		CourseID:      doc.CourseID,
		Amount:        amount,
		Status:        purchase.Status(doc.Status),
		FailureReason: doc.FailureReason,
		SweepAttempts: doc.SweepAttempts,
		LastError:     doc.LastError,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}, nil
}

type purchaseRepository struct {
	coll *mongo.Collection
}

func NewPurchaseRepository(db *mongo.Database) purchase.Repository {
	return &purchaseRepository{coll: db.Collection(purchasesCollection)}
}

func (repo *purchaseRepository) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	amount, err := toDecimal128(p.Amount)
	if err != nil {
		return purchase.Purchase{}, errors.Wrap(err, "encoding amount")
	}
	_, err = repo.coll.InsertOne(ctx, purchaseDoc{
		ID:            p.ID,
		UserID:        p.UserID,
		CourseID:      p.CourseID,
		Amount:        amount,
		Status:        string(p.Status),
		FailureReason: p.FailureReason,
		SweepAttempts: p.SweepAttempts,
		LastError:     p.LastError,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	})
	if err != nil {
		if isDuplicateKeyOn(err, onePendingIndex) {
			return purchase.Purchase{}, purchase.ErrConflict
		}
		return purchase.Purchase{}, errors.Wrap(err, "inserting purchase")
	}
	return p, nil
}

func (repo *purchaseRepository) findOne(ctx context.Context, filter bson.M) (purchase.Purchase, error) {
	var doc purchaseDoc
	if err := repo.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return purchase.Purchase{}, purchase.ErrNotFound
		}
		return purchase.Purchase{}, errors.Wrap(err, "finding purchase")
	}
	return doc.toPurchase()
}

func (repo *purchaseRepository) GetPurchase(ctx context.Context, id string) (purchase.Purchase, error) {
	return repo.findOne(ctx, bson.M{"_id": id})
}

func (repo *purchaseRepository) GetPendingPurchase(ctx context.Context, userID, courseID string) (purchase.Purchase, error) {
	return repo.findOne(ctx, bson.M{"user_id": userID, "course_id": courseID, "status": string(purchase.StatusPending)})
}

// update applies the update when filter matches; it returns the updated document and whether it matched.
func (repo *purchaseRepository) update(ctx context.Context, filter, update bson.M) (purchase.Purchase, bool, error) {
	var doc purchaseDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := repo.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return purchase.Purchase{}, false, nil
		}
		return purchase.Purchase{}, false, err
	}
	p, err := doc.toPurchase()
	return p, err == nil, err
}

func (repo *purchaseRepository) TransitionPurchase(
	ctx context.Context,
	id string,
	from, to purchase.Status,
	reason string,
	at time.Time,
) (purchase.Purchase, bool, error) {
	p, changed, err := repo.update(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "failure_reason": reason, "updated_at": at}},
	)
	if err != nil {
		return purchase.Purchase{}, false, errors.Wrap(err, "updating purchase status")
	}
	if changed {
		return p, true, nil
	}
	p, err = repo.GetPurchase(ctx, id)
	return p, false, err
}

func (repo *purchaseRepository) RecordSweepAttempt(ctx context.Context, id, errMsg string, at time.Time) (purchase.Purchase, error) {
	p, changed, err := repo.update(ctx,
		bson.M{"_id": id, "status": string(purchase.StatusPending)},
		bson.M{
			"$inc": bson.M{"sweep_attempts": 1},
			"$set": bson.M{"last_error": errMsg, "updated_at": at},
		},
	)
	if err != nil {
		return purchase.Purchase{}, errors.Wrap(err, "recording sweep attempt")
	}
	if changed {
		return p, nil
	}
	return repo.GetPurchase(ctx, id)
}

func (repo *purchaseRepository) QueryPendingBefore(
	ctx context.Context,
	cutoff time.Time,
	after purchase.Cursor,
	limit int,
) ([]purchase.Purchase, error) {
	filter := bson.M{
		"status":     string(purchase.StatusPending),
		"created_at": bson.M{"$lt": cutoff},
	}
	if !after.IsZero() {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$gt": after.CreatedAt}},
			bson.M{"created_at": after.CreatedAt, "_id": bson.M{"$gt": after.ID}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := repo.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "finding stale purchases")
	}
	var docs []purchaseDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding stale purchases")
	}

	purchases := make([]purchase.Purchase, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.toPurchase()
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}
