package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/user"
)

type userRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Email           string         `db:"email"`
	Roles           pq.StringArray `db:"roles"`
	EnrolledCourses pq.StringArray `db:"enrolled_courses"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func newUserRow(usr user.User) userRow {
	return userRow{
		ID:              usr.ID,
		Name:            usr.Name,
		Email:           usr.Email,
		Roles:           pq.StringArray(user.Strings(usr.Roles)),
		EnrolledCourses: pq.StringArray(usr.EnrolledCourses),
		CreatedAt:       usr.CreatedAt,
		UpdatedAt:       usr.UpdatedAt,
	}
}

func (row userRow) toUser() user.User {
	return user.User{
		ID:              row.ID,
		Name:            row.Name,
		Email:           row.Email,
		Roles:           user.ParseRoles(row.Roles),
		EnrolledCourses: []string(row.EnrolledCourses),
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
}

type userRepository struct {
	db core.DBExecutor
}

func NewUserRepository(db core.DBExecutor) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := newUserRow(usr)
	if row.EnrolledCourses == nil {
		row.EnrolledCourses = pq.StringArray{}
	}
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, roles, enrolled_courses, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.Name, row.Email, row.Roles, row.EnrolledCourses, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolationOn(err); ok {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT id, name, email, roles, enrolled_courses, created_at, updated_at
		FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "selecting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) SaveUser(ctx context.Context, usr user.User) error {
	row := newUserRow(usr)
	// the enrolled set is unioned with the stored one, keeping first-insertion order
	res, err := repo.db.ExecContext(ctx, `
		UPDATE users SET
			name = $2,
			email = $3,
			roles = $4,
			enrolled_courses = ARRAY(
				SELECT c FROM unnest(enrolled_courses || $5::text[]) WITH ORDINALITY AS t(c, n)
				GROUP BY c ORDER BY min(n)
			),
			updated_at = $6
		WHERE id = $1`,
		row.ID, row.Name, row.Email, row.Roles, row.EnrolledCourses, row.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	if !ok {
		return user.ErrNotFound
	}
	return nil
}

func (repo *userRepository) UnenrollCourse(ctx context.Context, userID, courseID string) error {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE users SET enrolled_courses = array_remove(enrolled_courses, $2) WHERE id = $1",
		userID, courseID,
	)
	if err != nil {
		return errors.Wrap(err, "unenrolling user")
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return errors.Wrap(err, "unenrolling user")
	}
	if !ok {
		return user.ErrNotFound
	}
	return nil
}
