package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/mnemion/ocrdesk/internal/api"
)

func (s *Store) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("이메일을 입력해주세요.")
	}
	return s.client.RequestPasswordReset(ctx, email)
}

func (s *Store) ResetPassword(ctx context.Context, token, password string) (string, error) {
	if token == "" || password == "" {
		return "", errors.New("토큰과 새 비밀번호가 필요합니다.")
	}
	return s.client.ResetPassword(ctx, token, password)
}

func (s *Store) ChangePassword(ctx context.Context, current, next string) (string, error) {
	if !s.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}
	return s.client.ChangePassword(ctx, current, next)
}

// DeleteAccount removes the account and signs out locally.
func (s *Store) DeleteAccount(ctx context.Context) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if err := s.client.DeleteAccount(ctx); err != nil {
		return err
	}
	return s.SignOut()
}

// Profile is the server's view of the account.
type Profile struct {
	User
	CreatedAt string
}

func (s *Store) Profile(ctx context.Context) (Profile, error) {
	if !s.IsAuthenticated() {
		return Profile{}, ErrNotAuthenticated
	}
	p, err := s.client.Profile(ctx)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		User: User{
			ID:       string(p.ID),
			Email:    p.Email,
			Name:     p.Name,
			Username: p.Username,
			Role:     p.Role,
		},
		CreatedAt: string(p.CreatedAt),
	}, nil
}

// UpdateProfile saves name and username; nil leaves a field unchanged. The
// user is re-derived from the reissued token.
func (s *Store) UpdateProfile(ctx context.Context, name, username *string) (Profile, error) {
	if !s.IsAuthenticated() {
		return Profile{}, ErrNotAuthenticated
	}
	p, err := s.client.UpdateProfile(ctx, api.ProfileUpdate{Name: name, Username: username})
	if err != nil {
		return Profile{}, err
	}

	s.Init()
	s.mu.Lock()
	if s.user != nil {
		if name != nil {
			s.user.Name = p.Name
		}
		if username != nil {
			s.user.Username = p.Username
		}
	}
	s.mu.Unlock()

	return Profile{
		User: User{
			ID:       string(p.ID),
			Email:    p.Email,
			Name:     p.Name,
			Username: p.Username,
			Role:     p.Role,
		},
		CreatedAt: string(p.CreatedAt),
	}, nil
}
