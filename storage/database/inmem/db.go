package inmemdb

import (
	"sync"

	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/user"
)

type (
	// DB is a process-local store, for dev mode & tests.
	DB struct {
		user     *userTable
		course   *courseTable
		purchase *purchaseTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	courseTable struct {
		sync.RWMutex
		table map[string]*course.Course
	}

	purchaseTable struct {
		sync.RWMutex
		table map[string]*purchase.Purchase
	}
)

func Open() *DB {
	return &DB{
		user:     &userTable{table: make(map[string]*user.User)},
		course:   &courseTable{table: make(map[string]*course.Course)},
		purchase: &purchaseTable{table: make(map[string]*purchase.Purchase)},
	}
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
