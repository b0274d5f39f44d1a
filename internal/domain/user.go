// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrUsernameEmpty = errors.New("username empty")
)

type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID accepts the decimal form used by token subjects.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidUserID
	}
	return UserID(n), nil
}

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// Identity is the single authenticated principal of a session.
type Identity struct {
	UserID   UserID
	Username string
	Token    string
}

func NewIdentity(id UserID, username, token string) (Identity, error) {
	if id <= 0 {
		return Identity{}, ErrInvalidUserID
	}
	if username == "" {
		return Identity{}, ErrUsernameEmpty
	}
	return Identity{UserID: id, Username: username, Token: token}, nil
}
