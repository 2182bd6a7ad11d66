package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mnemion/ocrdesk/internal/api"
)

// User is the identity derived from the bearer token.
type User struct {
	ID       string
	Email    string
	Name     string
	Username string
	Role     string
}

type claims struct {
	UserID   api.FlexString `json:"user_id"`
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Username string         `json:"username"`
	Role     string         `json:"role"`
	jwt.RegisteredClaims
}

// ErrTokenExpired is returned by Decode for a token whose exp has passed.
var ErrTokenExpired = errors.New("token expired")

// Decode reads the token payload without verifying the signature; the
// server does that on every request. A token without exp never expires
// locally.
func Decode(token string, now time.Time) (User, *time.Time, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return User{}, nil, fmt.Errorf("decoding token: %w", err)
	}
	u := User{
		ID:       string(c.UserID),
		Email:    c.Email,
		Name:     c.Name,
		Username: c.Username,
		Role:     c.Role,
	}
	if c.ExpiresAt == nil {
		return u, nil, nil
	}
	exp := c.ExpiresAt.Time
	if !now.Before(exp) {
		return u, &exp, ErrTokenExpired
	}
	return u, &exp, nil
}

// merge fills fields the token left empty from the server's user object.
func merge(u User, info *api.UserInfo) User {
	if info == nil {
		return u
	}
	if u.ID == "" {
		u.ID = string(info.ID)
	}
	if u.Email == "" {
		u.Email = info.Email
	}
	if u.Name == "" {
		u.Name = info.Name
	}
	if u.Username == "" {
		u.Username = info.Username
	}
	if u.Role == "" {
		u.Role = info.Role
	}
	return u
}
