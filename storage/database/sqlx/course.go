package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
)

type courseRow struct {
	ID               string          `db:"id"`
	Title            string          `db:"title"`
	EducatorID       string          `db:"educator_id"`
	Price            decimal.Decimal `db:"price"`
	IsPublished      bool            `db:"is_published"`
	EnrolledStudents pq.StringArray  `db:"enrolled_students"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (row courseRow) toCourse() course.Course {
	return course.Course{
		ID:               row.ID,
		Title:            row.Title,
		EducatorID:       row.EducatorID,
		Price:            row.Price,
		IsPublished:      row.IsPublished,
		EnrolledStudents: []string(row.EnrolledStudents),
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	db core.DBExecutor
}

func NewCourseRepository(db core.DBExecutor) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	students := pq.StringArray(c.EnrolledStudents)
	if students == nil {
		students = pq.StringArray{}
	}
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO courses (id, title, educator_id, price, is_published, enrolled_students, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Title, c.EducatorID, c.Price, c.IsPublished, students, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	var row courseRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT id, title, educator_id, price, is_published, enrolled_students, created_at, updated_at
		FROM courses WHERE id = $1`,
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "selecting course")
	}
	return row.toCourse(), nil
}

func (repo *courseRepository) SaveCourse(ctx context.Context, c course.Course) error {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE courses SET
			title = $2,
			educator_id = $3,
			price = $4,
			is_published = $5,
			enrolled_students = ARRAY(
				SELECT s FROM unnest(enrolled_students || $6::text[]) WITH ORDINALITY AS t(s, n)
				GROUP BY s ORDER BY min(n)
			),
			updated_at = $7
		WHERE id = $1`,
		c.ID, c.Title, c.EducatorID, c.Price, c.IsPublished, pq.StringArray(c.EnrolledStudents), c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	if !ok {
		return course.ErrNotFound
	}
	return nil
}

func (repo *courseRepository) UnenrollStudent(ctx context.Context, courseID, userID string) error {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE courses SET enrolled_students = array_remove(enrolled_students, $2) WHERE id = $1",
		courseID, userID,
	)
	if err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	if !ok {
		return course.ErrNotFound
	}
	return nil
}

func (repo *courseRepository) DeleteCourse(ctx context.Context, id string) error {
	if _, err := repo.db.ExecContext(ctx, "DELETE FROM courses WHERE id = $1", id); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return nil
}
