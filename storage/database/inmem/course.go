package inmemdb

import (
	"context"

	"github.com/trezcool/lms/core/course"
)

type courseRepository struct {
	db *courseTable
}

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db.course}
}

func cloneCourse(c course.Course) *course.Course {
	c.EnrolledStudents = copyStrings(c.EnrolledStudents)
	return &c
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[c.ID] = cloneCourse(c)
	return c, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.table[id]; ok {
		return *cloneCourse(*c), nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) SaveCourse(_ context.Context, c course.Course) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[c.ID]
	if !ok {
		return course.ErrNotFound
	}
	// merge the enrolled set: concurrent savers only ever add
	merged := cloneCourse(c)
	merged.EnrolledStudents = copyStrings(orig.EnrolledStudents)
	for _, id := range c.EnrolledStudents {
		merged.AddEnrolledStudent(id)
	}
	merged.CreatedAt = orig.CreatedAt
	repo.db.table[c.ID] = merged
	return nil
}

func (repo *courseRepository) UnenrollStudent(_ context.Context, courseID, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[courseID]
	if !ok {
		return course.ErrNotFound
	}
	c := cloneCourse(*orig)
	c.RemoveEnrolledStudent(userID)
	repo.db.table[courseID] = c
	return nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.table, id)
	return nil
}
