// Package auth keeps the signed-in identity. The token itself is owned by
// the API client; this store only decodes it and reacts to its changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mnemion/ocrdesk/internal/api"
)

// User-facing messages.
const (
	MsgSessionExpired     = "세션이 만료되었습니다. 다시 로그인해주세요."
	MsgSessionInvalid     = "인증 정보가 유효하지 않습니다. 다시 로그인해주세요."
	MsgInvalidCredentials = "이메일 또는 비밀번호가 올바르지 않습니다."
	MsgDuplicateAccount   = "이미 등록된 이메일입니다."
	MsgServerError        = "서버 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	MsgLoginFailed        = "로그인에 실패했습니다."
)

// ErrNotAuthenticated is returned by account operations without a session.
var ErrNotAuthenticated = errors.New("로그인이 필요합니다")

// Client is the part of api.Client the store uses.
type Client interface {
	Token() string
	Signals() *api.Signals
	Login(ctx context.Context, email, password string) (api.Session, error)
	Register(ctx context.Context, req api.RegisterRequest) (api.Session, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) (string, error)
	ChangePassword(ctx context.Context, current, next string) (string, error)
	DeleteAccount(ctx context.Context) error
	Profile(ctx context.Context) (api.Profile, error)
	UpdateProfile(ctx context.Context, u api.ProfileUpdate) (api.Profile, error)
	ClearToken() error
}

// LocalState is the client-side state wiped on sign-out.
type LocalState interface {
	DeletePrefix(prefix string) (int64, error)
	ClearExtractions() error
}

// Prefixes of per-user keys dropped on sign-out.
var signOutPrefixes = []string{"draft:", "settings:", "session:"}

type Store struct {
	client Client
	local  LocalState
	now    func() time.Time
	log    *slog.Logger

	mu        sync.Mutex
	user      *User
	expiresAt *time.Time
	loading   bool
	lastErr   string
	lastToken string
	listeners []func(*User)

	unsubscribe func()
}

// New builds a store and subscribes it to the client's auth errors. Call
// Init before reading the user.
func New(client Client, local LocalState) *Store {
	s := &Store{
		client:  client,
		local:   local,
		now:     time.Now,
		log:     slog.Default().With("component", "auth"),
		loading: true,
	}
	s.unsubscribe = client.Signals().Subscribe(s.onAuthError)
	return s
}

// Close detaches the store from the client's auth errors.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Init derives the user from the stored token. An expired or undecodable
// token is discarded.
func (s *Store) Init() *User {
	token := s.client.Token()

	s.mu.Lock()
	s.lastToken = token
	s.mu.Unlock()

	if token == "" {
		s.setUser(nil, nil)
		return nil
	}

	u, exp, err := Decode(token, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			s.log.Info("stored token expired", "expired_at", exp)
		} else {
			s.log.Warn("discarding undecodable token", "error", err)
		}
		if cerr := s.client.ClearToken(); cerr != nil {
			s.log.Warn("clearing token", "error", cerr)
		}
		s.mu.Lock()
		s.lastToken = ""
		s.mu.Unlock()
		s.setUser(nil, nil)
		return nil
	}
	s.setUser(&u, exp)
	return &u
}

func (s *Store) setUser(u *User, exp *time.Time) {
	s.mu.Lock()
	s.user = u
	s.expiresAt = exp
	s.loading = false
	listeners := append([]func(*User){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(u)
	}
}

// User returns a copy of the signed-in user, or nil.
func (s *Store) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// ExpiresAt is the token expiry, or nil when unknown.
func (s *Store) ExpiresAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// IsAuthenticated reports a user is present and not loading.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil && !s.loading
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError is the message of the most recent auth failure.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

// OnChange registers fn for every change of the signed-in user.
func (s *Store) OnChange(fn func(*User)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) onAuthError(e api.AuthError) {
	msg := MsgSessionInvalid
	if e.Reason == api.ReasonExpired {
		msg = MsgSessionExpired
	}
	s.log.Info("signed out by server", "reason", e.Reason)

	s.mu.Lock()
	s.lastErr = msg
	s.lastToken = ""
	s.mu.Unlock()
	s.setUser(nil, nil)
}

// SignIn exchanges credentials for a session. The returned error carries
// text fit for display.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	sess, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.finishFailed()
		return describe(err, MsgLoginFailed)
	}
	return s.adopt(sess)
}

// SignUp registers and signs in. When registration does not issue a token,
// the same credentials are used to log in.
func (s *Store) SignUp(ctx context.Context, email, password, name string) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	sess, err := s.client.Register(ctx, api.RegisterRequest{Email: email, Password: password, Name: name})
	if err != nil {
		s.finishFailed()
		return describe(err, "회원가입에 실패했습니다.")
	}
	if sess.Token == "" {
		login, err := s.client.Login(ctx, email, password)
		if err != nil {
			s.finishFailed()
			return describe(err, MsgLoginFailed)
		}
		if login.User == nil {
			login.User = sess.User
		}
		sess = login
	}
	return s.adopt(sess)
}

func (s *Store) adopt(sess api.Session) error {
	if sess.Token == "" {
		s.finishFailed()
		return errors.New(MsgLoginFailed)
	}
	u, exp, err := Decode(sess.Token, s.now())
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		// The token is opaque to us; trust the server's user object.
		s.log.Debug("token payload unreadable", "error", err)
		u, exp = User{}, nil
	}
	u = merge(u, sess.User)

	s.mu.Lock()
	s.lastErr = ""
	s.lastToken = sess.Token
	s.mu.Unlock()
	s.setUser(&u, exp)
	s.log.Info("signed in", "email", u.Email)
	return nil
}

func (s *Store) finishFailed() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// SignOut forgets the token and every piece of per-user client state.
func (s *Store) SignOut() error {
	var errs []error
	if err := s.client.ClearToken(); err != nil {
		errs = append(errs, fmt.Errorf("clearing token: %w", err))
	}
	if s.local != nil {
		for _, p := range signOutPrefixes {
			if _, err := s.local.DeletePrefix(p); err != nil {
				errs = append(errs, fmt.Errorf("clearing %s*: %w", p, err))
			}
		}
		if err := s.local.ClearExtractions(); err != nil {
			errs = append(errs, fmt.Errorf("clearing history snapshot: %w", err))
		}
	}

	s.mu.Lock()
	s.lastToken = ""
	s.lastErr = ""
	s.mu.Unlock()
	s.setUser(nil, nil)
	return errors.Join(errs...)
}

// Watch polls the token store and re-runs Init whenever the token changes,
// so separate processes converge on one session. It returns when ctx is
// cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		last := s.lastToken
		s.mu.Unlock()
		if tok := s.client.Token(); tok != last {
			s.log.Debug("token changed outside this process")
			s.Init()
		}
	}
}

// describe turns a request failure into display text, preferring the
// server's own message.
func describe(err error, fallback string) error {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", fallback, err)
	}
	if apiErr.Status == 0 || apiErr.Message != api.GenericMessage(apiErr.Status) {
		return apiErr
	}
	msg := fallback
	switch {
	case apiErr.Status == http.StatusUnauthorized:
		msg = MsgInvalidCredentials
	case apiErr.Status == http.StatusConflict:
		msg = MsgDuplicateAccount
	case apiErr.Status >= 500:
		msg = MsgServerError
	}
	return &api.Error{Status: apiErr.Status, Message: msg, Code: apiErr.Code, Err: apiErr.Err}
}
