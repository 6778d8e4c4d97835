package inmemdb

import (
	"context"

	"github.com/trezcool/lms/core/user"
)

type userRepository struct {
	db *userTable
}

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

// clone detaches the stored record from the caller's copy.
func cloneUser(usr user.User) *user.User {
	usr.Roles = append([]user.Role(nil), usr.Roles...)
	usr.EnrolledCourses = copyStrings(usr.EnrolledCourses)
	return &usr
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; ok {
		return user.User{}, user.ErrUserExists
	}
	for _, u := range repo.db.table {
		if usr.Email != "" && u.Email == usr.Email {
			return user.User{}, user.ErrUserExists
		}
	}
	repo.db.table[usr.ID] = cloneUser(usr)
	return usr, nil
}

func (repo *userRepository) GetUser(_ context.Context, id string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if usr, ok := repo.db.table[id]; ok {
		return *cloneUser(*usr), nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) SaveUser(_ context.Context, usr user.User) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[usr.ID]
	if !ok {
		return user.ErrNotFound
	}
	// merge the enrolled set: concurrent savers only ever add
	merged := cloneUser(usr)
	merged.EnrolledCourses = copyStrings(orig.EnrolledCourses)
	for _, id := range usr.EnrolledCourses {
		merged.AddEnrolledCourse(id)
	}
	merged.CreatedAt = orig.CreatedAt
	repo.db.table[usr.ID] = merged
	return nil
}

func (repo *userRepository) UnenrollCourse(_ context.Context, userID, courseID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[userID]
	if !ok {
		return user.ErrNotFound
	}
	usr := cloneUser(*orig)
	usr.RemoveEnrolledCourse(courseID)
	repo.db.table[userID] = usr
	return nil
}
