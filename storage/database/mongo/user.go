package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/trezcool/lms/core/user"
)

type userDoc struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	Email           string    `bson:"email"`
	Roles           []string  `bson:"roles"`
	EnrolledCourses []string  `bson:"enrolled_courses"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (doc userDoc) toUser() user.User {
	return user.User{
		ID:              doc.ID,
		Name:            doc.Name,
		Email:           doc.Email,
		Roles:           user.ParseRoles(doc.Roles),
		EnrolledCourses: doc.EnrolledCourses,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
}

type userRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(db *mongo.Database) user.Repository {
	return &userRepository{coll: db.Collection(usersCollection)}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	enrolled := usr.EnrolledCourses
	if enrolled == nil {
		enrolled = []string{}
	}
	_, err := repo.coll.InsertOne(ctx, userDoc{
		ID:              usr.ID,
		Name:            usr.Name,
		Email:           usr.Email,
		Roles:           user.Strings(usr.Roles),
		EnrolledCourses: enrolled,
		CreatedAt:       usr.CreatedAt,
		UpdatedAt:       usr.UpdatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, id string) (user.User, error) {
	var doc userDoc
	if err := repo.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	return doc.toUser(), nil
}

func (repo *userRepository) SaveUser(ctx context.Context, usr user.User) error {
	enrolled := usr.EnrolledCourses
	if enrolled == nil {
		enrolled = []string{}
	}
	res, err := repo.coll.UpdateOne(ctx, bson.M{"_id": usr.ID}, bson.M{
		"$set": bson.M{
			"name":       usr.Name,
			"email":      usr.Email,
			"roles":      user.Strings(usr.Roles),
			"updated_at": usr.UpdatedAt,
		},
		"$addToSet": bson.M{"enrolled_courses": bson.M{"$each": enrolled}},
	})
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo *userRepository) UnenrollCourse(ctx context.Context, userID, courseID string) error {
	res, err := repo.coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$pull": bson.M{"enrolled_courses": courseID},
	})
	if err != nil {
		return errors.Wrap(err, "unenrolling user")
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}
