package inmemdb

import (
	"sync"

	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
)

type (
	DB struct {
		user    *userTable
		message *messageTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	messageTable struct {
		mutex sync.RWMutex
		table map[string]*chat.Message
	}
)

func Open() *DB {
	return &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		message: &messageTable{table: make(map[string]*chat.Message)},
	}
}

func clone(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return append(make([]string, 0, len(ss)), ss...)
}
