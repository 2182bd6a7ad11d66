// Package testutil provides an in-memory OCR backend for tests. It speaks
// the same JSON shapes as the production server, including its quirks:
// top-level ids on uploads, RFC 1123 timestamps and 401 codes.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Record is one stored extraction.
type Record struct {
	ID            int64
	UserID        string
	Filename      string
	ExtractedText string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IsBookmarked  bool
	SourceType    string
	OCRModel      string
	Language      string
}

// RecordedRequest is what the backend saw for one call.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	JSON   map[string]any
	Form   map[string]string
	Files  map[string]string // field -> filename
}

type user struct {
	ID       string
	Email    string
	Password string
	Name     string
	Username string
	Role     string
}

type failure struct {
	status    int
	body      map[string]any
	remaining int // <0 means every call
}

// Backend is a fake OCR server. All fields are guarded by mu; use the
// methods.
type Backend struct {
	Server *httptest.Server
	Secret []byte

	// OnExtract runs before every extraction upload is processed. Tests
	// block in it to hold a request in flight.
	OnExtract func(r *http.Request, originalName string)

	mu          sync.Mutex
	users       map[string]*user
	records     map[int64]*Record
	nextID      int64
	nextUser    int
	requests    []RecordedRequest
	failures    map[string]*failure
	failFiles   map[string]string
	tokenTTL    time.Duration
	now         func() time.Time
	registerTok bool
}

// TB is the part of testing.TB the backend needs. Both *testing.T and
// GinkgoT() satisfy it.
type TB interface {
	Helper()
	Cleanup(func())
}

// NewBackend starts a backend that is shut down when the test ends.
func NewBackend(t TB) *Backend {
	t.Helper()
	b := &Backend{
		Secret:    []byte("test-secret"),
		users:     make(map[string]*user),
		records:   make(map[int64]*Record),
		failures:  make(map[string]*failure),
		failFiles: make(map[string]string),
		tokenTTL:  time.Hour,
		now:       time.Now,
	}
	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the server root; clients append /api themselves.
func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.record)

	r.Route("/api", func(r chi.Router) {
		b.handle(r, http.MethodGet, "/health", b.handleHealth)
		b.handle(r, http.MethodPost, "/auth/login", b.handleLogin)
		b.handle(r, http.MethodPost, "/auth/register", b.handleRegister)
		b.handle(r, http.MethodPost, "/auth/reset_password_request", b.handleResetRequest)
		b.handle(r, http.MethodPost, "/auth/reset_password", b.handleReset)

		r.Group(func(r chi.Router) {
			r.Use(b.requireUser)
			b.handle(r, http.MethodPost, "/auth/change_password", b.handleChangePassword)
			b.handle(r, http.MethodDelete, "/auth/delete_account", b.handleDeleteAccount)
			b.handle(r, http.MethodGet, "/auth/profile", b.handleGetProfile)
			b.handle(r, http.MethodPut, "/auth/profile", b.handlePutProfile)

			b.handle(r, http.MethodPost, "/extract", b.handleExtract)
			b.handle(r, http.MethodPost, "/extract/base64", b.handleExtractBase64)
			b.handle(r, http.MethodGet, "/extractions", b.handleList)
			b.handle(r, http.MethodDelete, "/extractions/{id}", b.handleDelete)
			b.handle(r, http.MethodPut, "/extractions/{id}/filename", b.handleRename)
			b.handle(r, http.MethodPut, "/extractions/bookmark/{id}", b.handleBookmark)
			b.handle(r, http.MethodGet, "/text/{id}", b.handleGetText)
			b.handle(r, http.MethodPut, "/text/{id}", b.handlePutText)
		})

		b.handle(r, http.MethodPost, "/parse-receipt", b.handleReceipt)
		b.handle(r, http.MethodPost, "/parse-business-card", b.handleBusinessCard)
		b.handle(r, http.MethodPost, "/extract-table", b.handleTable)
		b.handle(r, http.MethodPost, "/summarize", b.handleSummarize)
		b.handle(r, http.MethodPost, "/translate", b.handleTranslate)
		b.handle(r, http.MethodPost, "/detect-language", b.handleDetect)
	})
	return r
}

// handle registers h behind the failure injector for "METHOD /api<pattern>".
func (b *Backend) handle(r chi.Router, method, pattern string, h http.HandlerFunc) {
	key := method + " /api" + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if f := b.takeFailure(key); f != nil {
			writeJSON(w, f.status, f.body)
			return
		}
		h(w, req)
	}))
}

func (b *Backend) takeFailure(key string) *failure {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.failures[key]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(b.failures, key)
		}
	}
	return f
}

// Fail makes route (e.g. "PUT /api/extractions/{id}/filename") answer with
// status and {"success": false, "error": msg}. times < 0 fails every call.
func (b *Backend) Fail(route string, status int, msg string, times int) {
	b.FailWith(route, status, map[string]any{"success": false, "error": msg}, times)
}

// FailWith is Fail with a custom body.
func (b *Backend) FailWith(route string, status int, body map[string]any, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if times == 0 {
		delete(b.failures, route)
		return
	}
	b.failures[route] = &failure{status: status, body: body, remaining: times}
}

// FailFile makes OCR uploads whose original name is name fail with msg.
func (b *Backend) FailFile(name, msg string) {
	b.mu.Lock()
	b.failFiles[name] = msg
	b.mu.Unlock()
}

// SetTokenTTL changes the lifetime of tokens issued by login.
func (b *Backend) SetTokenTTL(d time.Duration) {
	b.mu.Lock()
	b.tokenTTL = d
	b.mu.Unlock()
}

// SetRegisterIssuesToken makes registration return a token directly.
func (b *Backend) SetRegisterIssuesToken(v bool) {
	b.mu.Lock()
	b.registerTok = v
	b.mu.Unlock()
}

// Requests returns a copy of every request seen so far.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedRequest(nil), b.requests...)
}

// Count returns how many requests matched method and path.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// AddUser creates an account and returns its id.
func (b *Backend) AddUser(email, password, name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(email, password, name)
}

func (b *Backend) addUserLocked(email, password, name string) string {
	b.nextUser++
	id := strconv.Itoa(b.nextUser)
	username, _, _ := strings.Cut(email, "@")
	b.users[email] = &user{ID: id, Email: email, Password: password, Name: name, Username: username, Role: "user"}
	return id
}

// Token issues a token for an existing user that expires after ttl; a
// negative ttl yields an already expired token.
func (b *Backend) Token(email string, ttl time.Duration) string {
	b.mu.Lock()
	u := b.users[email]
	b.mu.Unlock()
	if u == nil {
		panic("testutil: unknown user " + email)
	}
	return b.sign(u, ttl)
}

func (b *Backend) sign(u *user, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"user_id":  u.ID,
		"email":    u.Email,
		"name":     u.Name,
		"username": u.Username,
		"role":     u.Role,
		"exp":      jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.Secret)
	if err != nil {
		panic(err)
	}
	return tok
}

// Seed stores records for userID and returns them with ids assigned.
func (b *Backend) Seed(userID string, recs ...Record) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.ID == 0 {
			b.nextID++
			r.ID = b.nextID
		} else if r.ID > b.nextID {
			b.nextID = r.ID
		}
		r.UserID = userID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = b.now()
		}
		rec := r
		b.records[r.ID] = &rec
		out = append(out, r)
	}
	return out
}

// Record returns a stored extraction.
func (b *Backend) Record(id int64) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns every stored extraction ordered by id.
func (b *Backend) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
		}
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, "multipart/form-data"):
			if err := r.ParseMultipartForm(32 << 20); err == nil {
				rec.Form = make(map[string]string)
				rec.Files = make(map[string]string)
				for k, vs := range r.MultipartForm.Value {
					if len(vs) > 0 {
						rec.Form[k] = vs[0]
					}
				}
				for k, fhs := range r.MultipartForm.File {
					if len(fhs) > 0 {
						rec.Files[k] = fhs[0].Filename
					}
				}
			}
		case strings.HasPrefix(ct, "application/json"):
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			_ = json.Unmarshal(body, &rec.JSON)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}

		b.mu.Lock()
		b.requests = append(b.requests, rec)
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeBody(r *http.Request) map[string]any {
	var m map[string]any
	_ = json.NewDecoder(r.Body).Decode(&m)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func (b *Backend) recordJSON(r *Record) map[string]any {
	out := map[string]any{
		"id":             r.ID,
		"user_id":        r.UserID,
		"filename":       r.Filename,
		"extracted_text": r.ExtractedText,
		"created_at":     r.CreatedAt.UTC().Format(http.TimeFormat),
		"updated_at":     nil,
		"is_bookmarked":  boolToInt(r.IsBookmarked),
		"source_type":    r.SourceType,
		"ocr_model":      r.OCRModel,
		"language":       r.Language,
	}
	if !r.UpdatedAt.IsZero() {
		out["updated_at"] = r.UpdatedAt.UTC().Format(http.TimeFormat)
	}
	return out
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}
