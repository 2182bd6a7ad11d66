package api

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// AuthReason classifies a 401 response.
type AuthReason string

const (
	ReasonExpired AuthReason = "expired"
	ReasonInvalid AuthReason = "invalid"
)

// Codes the backend puts in 401 bodies.
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeAuthFailed   = "AUTH_FAILED"
)

// AuthError is broadcast whenever the server rejects the stored token.
type AuthError struct {
	Reason  AuthReason
	Message string
	Code    string
}

// Signals fans auth errors out to every subscriber. The zero value is ready
// to use.
type Signals struct {
	mu   sync.Mutex
	next int
	subs map[int]func(AuthError)
}

// Subscribe registers fn and returns a function that removes it.
func (s *Signals) Subscribe(fn func(AuthError)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(AuthError))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Signals) publish(e AuthError) {
	s.mu.Lock()
	fns := make([]func(AuthError), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Navigator is the view router the client redirects through after an
// expired session.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// DefaultRedirectDelay is how long the client waits before sending the user
// to the login view, leaving time for the auth error to be shown.
const DefaultRedirectDelay = 1500 * time.Millisecond

type redirector struct {
	nav   Navigator
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending string
}

func isAuthView(path string) bool {
	p, _, _ := strings.Cut(path, "?")
	p = strings.TrimRight(p, "/")
	return p == "/login" || p == "/register"
}

func loginPath(from string) string {
	return "/login?redirect=" + url.QueryEscape(from)
}

// schedule arms a single delayed redirect. A redirect already pending is
// replaced so only one navigation happens.
func (r *redirector) schedule() {
	if r == nil || r.nav == nil {
		return
	}
	current := r.nav.CurrentPath()
	if isAuthView(current) {
		return
	}
	target := loginPath(current)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.pending = target
	r.timer = time.AfterFunc(r.delay, r.fire)
}

func (r *redirector) fire() {
	r.mu.Lock()
	target := r.pending
	r.pending = ""
	r.timer = nil
	r.mu.Unlock()

	if target != "" {
		r.nav.Navigate(target)
	}
}

func (r *redirector) flush() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	if r.timer == nil {
		r.mu.Unlock()
		return false
	}
	r.timer.Stop()
	r.mu.Unlock()
	r.fire()
	return true
}
