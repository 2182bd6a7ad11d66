package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// UserInfo is the user object the backend attaches to auth responses.
type UserInfo struct {
	ID       FlexString `json:"id"`
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Username string     `json:"username"`
	Role     string     `json:"role"`
}

// Session is the outcome of a login or registration. Token is empty when
// the backend created the account without signing it in.
type Session struct {
	Token string
	User  *UserInfo
}

// decodeSession accepts {token, user} at the top level or under "data", and
// a bare user object under "data" (registration).
func decodeSession(res Result) (Session, error) {
	var body struct {
		Token string          `json:"token"`
		User  *UserInfo       `json:"user"`
		Data  json.RawMessage `json:"data"`
	}
	if err := res.Decode(&body); err != nil {
		return Session{}, err
	}
	s := Session{Token: body.Token, User: body.User}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return s, nil
	}

	var nested struct {
		Token string    `json:"token"`
		User  *UserInfo `json:"user"`
		UserInfo
	}
	if err := json.Unmarshal(body.Data, &nested); err != nil {
		return s, nil
	}
	if s.Token == "" {
		s.Token = nested.Token
	}
	if s.User == nil {
		s.User = nested.User
	}
	if s.User == nil && nested.Email != "" {
		u := nested.UserInfo
		s.User = &u
	}
	return s, nil
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "auth/login",
		Body:   map[string]string{"email": email, "password": password},
	})
	if err := res.AsError(); err != nil {
		return Session{}, err
	}
	s, err := decodeSession(res)
	if err != nil {
		return Session{}, err
	}
	if s.Token != "" {
		if err := c.SetToken(s.Token); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Register creates an account. When the backend issues a token it is
// stored, as with Login.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	res := c.Do(ctx, Request{Method: http.MethodPost, Path: "auth/register", Body: req})
	if err := res.AsError(); err != nil {
		return Session{}, err
	}
	s, err := decodeSession(res)
	if err != nil {
		return Session{}, err
	}
	if s.Token != "" {
		if err := c.SetToken(s.Token); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "auth/reset_password_request",
		Body:   map[string]string{"email": email},
	})
	return res.Message, res.AsError()
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) (string, error) {
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "auth/reset_password",
		Body:   map[string]string{"token": token, "password": password},
	})
	return res.Message, res.AsError()
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) (string, error) {
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "auth/change_password",
		Body:   map[string]string{"current_password": current, "new_password": next},
	})
	return res.Message, res.AsError()
}

// DeleteAccount removes the signed-in account and forgets its token.
func (c *Client) DeleteAccount(ctx context.Context) error {
	res := c.Do(ctx, Request{Method: http.MethodDelete, Path: "auth/delete_account"})
	if err := res.AsError(); err != nil {
		return err
	}
	return c.ClearToken()
}

// Profile is the account record from /api/auth/profile.
type Profile struct {
	ID        FlexString `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	Role      string     `json:"role"`
	CreatedAt FlexString `json:"created_at"`
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	res := c.Do(ctx, Request{Path: "auth/profile"})
	if err := res.AsError(); err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := res.Payload(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// ProfileUpdate carries the editable profile fields; nil fields are left
// unchanged.
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Username *string `json:"username,omitempty"`
}

// UpdateProfile saves the profile. The backend reissues the token so the
// new name is reflected in its claims; the new token replaces the old one.
func (c *Client) UpdateProfile(ctx context.Context, u ProfileUpdate) (Profile, error) {
	res := c.Do(ctx, Request{Method: http.MethodPut, Path: "auth/profile", Body: u})
	if err := res.AsError(); err != nil {
		return Profile{}, err
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := res.Decode(&body); err == nil && body.Token != "" {
		if err := c.SetToken(body.Token); err != nil {
			return Profile{}, err
		}
	}
	var p Profile
	if err := res.Payload(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
