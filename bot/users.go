package bot

import (
	"sync"

	"github.com/nlopes/slack"
)

// User is a member of the Slack team.
type User struct {
	ID       string
	Name     string
	RealName string
}

func userFromSlack(u slack.User) User {
	return User{ID: u.ID, Name: u.Name, RealName: u.RealName}
}

// Users maps user ids to users.
type Users struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewUsers() *Users {
	return &Users{users: make(map[string]User)}
}

func (u *Users) Reset(users []slack.User) {
	m := make(map[string]User, len(users))
	for _, su := range users {
		m[su.ID] = userFromSlack(su)
	}
	u.mu.Lock()
	u.users = m
	u.mu.Unlock()
}

func (u *Users) Set(su slack.User) {
	u.mu.Lock()
	u.users[su.ID] = userFromSlack(su)
	u.mu.Unlock()
}

// Get returns the user with id. Unknown users come back with only the id
// set.
func (u *Users) Get(id string) User {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if user, ok := u.users[id]; ok {
		return user
	}
	return User{ID: id}
}
