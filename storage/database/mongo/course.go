package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/trezcool/lms/core/course"
)

type courseDoc struct {
	ID               string               `bson:"_id"`
	Title            string               `bson:"title"`
	EducatorID       string               `bson:"educator_id"`
	Price            primitive.Decimal128 `bson:"price"`
	IsPublished      bool                 `bson:"is_published"`
	EnrolledStudents []string             `bson:"enrolled_students"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func (doc courseDoc) toCourse() (course.Course, error) {
	price, err := fromDecimal128(doc.Price)
	if err != nil {
		return course.Course{}, errors.Wrapf(err, "course %s: decoding price", doc.ID)
	}
	return course.Course{
		ID:               doc.ID,
		Title:            doc.Title,
		EducatorID:       doc.EducatorID,
		Price:            price,
		IsPublished:      doc.IsPublished,
		EnrolledStudents: doc.EnrolledStudents,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}, nil
}

type courseRepository struct {
	coll *mongo.Collection
}

func NewCourseRepository(db *mongo.Database) course.Repository {
	return &courseRepository{coll: db.Collection(coursesCollection)}
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	price, err := toDecimal128(c.Price)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "encoding price")
	}
	students := c.EnrolledStudents
	if students == nil {
		students = []string{}
	}
	_, err = repo.coll.InsertOne(ctx, courseDoc{
		ID:               c.ID,
		Title:            c.Title,
		EducatorID:       c.EducatorID,
		Price:            price,
		IsPublished:      c.IsPublished,
		EnrolledStudents: students,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	})
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	var doc courseDoc
	if err := repo.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	return doc.toCourse()
}

func (repo *courseRepository) SaveCourse(ctx context.Context, c course.Course) error {
	price, err := toDecimal128(c.Price)
	if err != nil {
		return errors.Wrap(err, "encoding price")
	}
	students := c.EnrolledStudents
	if students == nil {
		students = []string{}
	}
	res, err := repo.coll.UpdateOne(ctx, bson.M{"_id": c.ID}, bson.M{
		"$set": bson.M{
			"title":        c.Title,
			"educator_id":  c.EducatorID,
			"price":        price,
			"is_published": c.IsPublished,
			"updated_at":   c.UpdatedAt,
		},
		"$addToSet": bson.M{"enrolled_students": bson.M{"$each": students}},
	})
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	if res.MatchedCount == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo *courseRepository) UnenrollStudent(ctx context.Context, courseID, userID string) error {
	res, err := repo.coll.UpdateOne(ctx, bson.M{"_id": courseID}, bson.M{
		"$pull": bson.M{"enrolled_students": userID},
	})
	if err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	if res.MatchedCount == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo *courseRepository) DeleteCourse(ctx context.Context, id string) error {
	if _, err := repo.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return nil
}
