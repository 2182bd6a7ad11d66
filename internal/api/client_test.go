package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mnemion/ocrdesk/internal/config"
)

type fakeNavigator struct {
	mu        sync.Mutex
	path      string
	navigated chan string
}

func newFakeNavigator(path string) *fakeNavigator {
	return &fakeNavigator{path: path, navigated: make(chan string, 4)}
}

func (n *fakeNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *fakeNavigator) Navigate(path string) {
	n.mu.Lock()
	n.path = path
	n.mu.Unlock()
	n.navigated <- path
}

func newTestClient(t *testing.T, url string, tokens config.TokenStore, nav Navigator) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:       url,
		Tokens:        tokens,
		Navigator:     nav,
		RedirectDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestDoSendsJSONAndBearer(t *testing.T) {
	var gotAuth, gotCT, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success": true, "data": {"ok": 1}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api", config.NewMemoryTokenStore("tok-1"), nil)
	res := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/api/api/thing", Body: map[string]string{"a": "b"}})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotPath != "/api/thing" {
		t.Errorf("path = %q, want /api/thing", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotBody["a"] != "b" {
		t.Errorf("body = %v", gotBody)
	}
	var payload struct{ OK int }
	if err := res.Payload(&payload); err != nil || payload.OK != 1 {
		t.Errorf("Payload = %+v, %v", payload, err)
	}
}

func TestDoWithoutTokenOmitsAuthorization(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, nil)
	c.Do(context.Background(), Request{Path: "health"})
	if header != "" {
		t.Errorf("Authorization = %q, want none", header)
	}
}

func TestDoParsesTextBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json in text/plain", `{"text":"from json"}`, "from json"},
		{"plain text", "hello world", "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			res := newTestClient(t, srv.URL, nil, nil).Do(context.Background(), Request{Path: "x"})
			var got struct{ Text string }
			if err := res.Decode(&got); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Text != tt.want {
				t.Errorf("text = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestDoFailureMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message wins", 404, `{"success":false,"error":"삭제 실패","message":"찾을 수 없습니다"}`, "찾을 수 없습니다"},
		{"error field", 400, `{"success":false,"error":"파일명은 비워둘 수 없습니다."}`, "파일명은 비워둘 수 없습니다."},
		{"generic", 502, `<html>bad gateway</html>`, "요청 처리 중 오류가 발생했습니다 (HTTP 502)"},
		{"success false on 200", 200, `{"success":false,"error":"처리 실패"}`, "처리 실패"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			res := newTestClient(t, srv.URL, nil, nil).Do(context.Background(), Request{Path: "x"})
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.Error != tt.want {
				t.Errorf("Error = %q, want %q", res.Error, tt.want)
			}
			err := res.AsError()
			if !errors.Is(err, ErrRequestFailed) {
				t.Errorf("AsError should match ErrRequestFailed, got %v", err)
			}
		})
	}
}

func TestDoTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newTestClient(t, url, nil, nil).Do(context.Background(), Request{Path: "health"})
	if res.Success || res.Error != MsgConnection || res.Err == nil {
		t.Errorf("got %+v, want connection failure", res)
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, nil, nil)
	res := c.Do(context.Background(), Request{Path: "slow", Timeout: 30 * time.Millisecond})
	if res.Error != MsgTimeout {
		t.Errorf("Error = %q, want %q", res.Error, MsgTimeout)
	}
}

func TestDoCallerCancel(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res := newTestClient(t, srv.URL, nil, nil).Do(ctx, Request{Path: "slow"})
	if res.Error != MsgCancelled || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("got %q / %v, want cancellation", res.Error, res.Err)
	}
}

func TestDoRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	res := newTestClient(t, srv.URL, nil, nil).Do(context.Background(), Request{Path: "x"})
	if !res.Success {
		t.Fatalf("expected success after retries, got %+v", res)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoRateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := newTestClient(t, srv.URL, nil, nil).Do(context.Background(), Request{Path: "x"})
	if res.Success || res.Status != http.StatusTooManyRequests {
		t.Errorf("got %+v", res)
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func unauthorizedServer(code string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"success":false,"error":"세션이 만료되었습니다. 다시 로그인해주세요.","code":%q}`, code)
	}))
}

func TestUnauthorizedExpiredRedirects(t *testing.T) {
	srv := unauthorizedServer(CodeTokenExpired)
	defer srv.Close()

	tokens := config.NewMemoryTokenStore("expired-token")
	nav := newFakeNavigator("/history?tab=all")
	c := newTestClient(t, srv.URL, tokens, nav)

	signals := make(chan AuthError, 1)
	c.Signals().Subscribe(func(e AuthError) { signals <- e })

	res := c.Do(context.Background(), Request{Path: "extractions"})
	if res.Success || res.Status != http.StatusUnauthorized {
		t.Fatalf("got %+v", res)
	}
	if tok, _ := tokens.Token(); tok != "" {
		t.Errorf("token not cleared: %q", tok)
	}

	select {
	case e := <-signals:
		if e.Reason != ReasonExpired || e.Code != CodeTokenExpired {
			t.Errorf("signal = %+v", e)
		}
	default:
		t.Fatal("no auth signal published")
	}

	select {
	case path := <-nav.navigated:
		want := "/login?redirect=%2Fhistory%3Ftab%3Dall"
		if path != want {
			t.Errorf("navigated to %q, want %q", path, want)
		}
	case <-time.After(time.Second):
		t.Fatal("redirect never happened")
	}
}

func TestUnauthorizedOnAuthViewDoesNotRedirect(t *testing.T) {
	srv := unauthorizedServer(CodeTokenExpired)
	defer srv.Close()

	for _, path := range []string{"/login", "/register", "/login?redirect=%2F"} {
		nav := newFakeNavigator(path)
		c := newTestClient(t, srv.URL, config.NewMemoryTokenStore("t"), nav)
		c.Do(context.Background(), Request{Path: "extractions"})

		select {
		case got := <-nav.navigated:
			t.Errorf("from %s: unexpected navigation to %q", path, got)
		case <-time.After(80 * time.Millisecond):
		}
	}
}

func TestUnauthorizedInvalidTokenSignalsWithoutRedirect(t *testing.T) {
	srv := unauthorizedServer(CodeInvalidToken)
	defer srv.Close()

	tokens := config.NewMemoryTokenStore("bad")
	nav := newFakeNavigator("/history")
	c := newTestClient(t, srv.URL, tokens, nav)

	var got AuthError
	c.Signals().Subscribe(func(e AuthError) { got = e })
	c.Do(context.Background(), Request{Path: "extractions"})

	if got.Reason != ReasonInvalid {
		t.Errorf("reason = %q, want invalid", got.Reason)
	}
	if tok, _ := tokens.Token(); tok != "" {
		t.Errorf("token not cleared")
	}
	if c.FlushRedirect() {
		t.Error("no redirect should be pending for an invalid token")
	}
}

func TestFlushRedirectFiresImmediately(t *testing.T) {
	srv := unauthorizedServer(CodeTokenExpired)
	defer srv.Close()

	nav := newFakeNavigator("/batch")
	c, err := New(Options{
		BaseURL:       srv.URL,
		Tokens:        config.NewMemoryTokenStore("t"),
		Navigator:     nav,
		RedirectDelay: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Do(context.Background(), Request{Path: "extractions"})

	if !c.FlushRedirect() {
		t.Fatal("expected a pending redirect")
	}
	if got := <-nav.navigated; got != "/login?redirect=%2Fbatch" {
		t.Errorf("navigated to %q", got)
	}
	if c.FlushRedirect() {
		t.Error("redirect fired twice")
	}
}

func TestMultipartBody(t *testing.T) {
	var fields map[string][]string
	var filename, fileCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data; boundary=") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		fields = r.MultipartForm.Value
		fh := r.MultipartForm.File["file"][0]
		filename = fh.Filename
		fileCT = fh.Header.Get("Content-Type")
		io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, nil)
	res := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "extract",
		Multipart: &Multipart{
			Fields: map[string]string{"language": "kor", "model": "tesseract"},
			Files:  []FilePart{{Field: "file", Filename: `scan "1".png`, ContentType: "image/png", Data: []byte("png")}},
		},
	})
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	if fields["language"][0] != "kor" || fields["model"][0] != "tesseract" {
		t.Errorf("fields = %v", fields)
	}
	if filename != `scan "1".png` {
		t.Errorf("filename = %q", filename)
	}
	if fileCT != "image/png" {
		t.Errorf("file content type = %q", fileCT)
	}
}

func TestFlexTypes(t *testing.T) {
	var v struct {
		A FlexString  `json:"a"`
		B FlexString  `json:"b"`
		C FlexBool    `json:"c"`
		D FlexBool    `json:"d"`
		E FlexStrings `json:"e"`
		F FlexStrings `json:"f"`
		G FlexStrings `json:"g"`
	}
	err := json.Unmarshal([]byte(`{"a":42,"b":"x","c":1,"d":"false","e":"one","f":["x","",2],"g":null}`), &v)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.A != "42" || v.B != "x" || !bool(v.C) || bool(v.D) {
		t.Errorf("scalars = %+v", v)
	}
	if len(v.E) != 1 || v.E[0] != "one" {
		t.Errorf("E = %v", v.E)
	}
	if len(v.F) != 2 || v.F[1] != "2" {
		t.Errorf("F = %v", v.F)
	}
	if v.G != nil {
		t.Errorf("G = %v", v.G)
	}
}
