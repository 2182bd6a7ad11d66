package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/mnemion/ocrdesk/internal/config"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultLongTimeout = 60 * time.Second
	maxRetries         = 3
	initialBackoff     = 500 * time.Millisecond
)

// User-facing failure messages.
const (
	MsgConnection = "서버에 연결할 수 없습니다"
	MsgTimeout    = "요청 시간이 초과되었습니다"
	MsgCancelled  = "요청이 취소되었습니다"
)

// ErrRequestFailed matches every *Error returned by the typed helpers.
var ErrRequestFailed = errors.New("request failed")

// Error is the error form of a failed Result.
type Error struct {
	Status  int
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrRequestFailed }

// Options configures a Client.
type Options struct {
	BaseURL     string
	Tokens      config.TokenStore
	Timeout     time.Duration
	LongTimeout time.Duration

	// Navigator receives the delayed login redirect after an expired
	// session. Nil disables redirects.
	Navigator     Navigator
	RedirectDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the OCR backend. It is the only writer of the bearer
// token and the only source of auth error signals.
type Client struct {
	baseURL     string
	tokens      config.TokenStore
	timeout     time.Duration
	longTimeout time.Duration
	httpClient  *http.Client
	signals     *Signals
	redirect    *redirector
	backoff     time.Duration
	log         *slog.Logger
}

// New builds a Client. A missing token store means requests are sent
// without credentials.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = config.NewMemoryTokenStore("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:     trimBaseURL(opts.BaseURL),
		tokens:      tokens,
		timeout:     orDefault(opts.Timeout, defaultTimeout),
		longTimeout: orDefault(opts.LongTimeout, defaultLongTimeout),
		httpClient:  httpClient,
		signals:     &Signals{},
		backoff:     initialBackoff,
		log:         logger.With("component", "api"),
	}
	if opts.Navigator != nil {
		c.redirect = &redirector{nav: opts.Navigator, delay: orDefault(opts.RedirectDelay, DefaultRedirectDelay)}
	}
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Signals returns the auth error broadcaster.
func (c *Client) Signals() *Signals { return c.signals }

// Token returns the stored bearer token, or "" when signed out.
func (c *Client) Token() string {
	tok, err := c.tokens.Token()
	if err != nil {
		c.log.Warn("reading token", "error", err)
		return ""
	}
	return tok
}

// SetToken persists a freshly issued token.
func (c *Client) SetToken(token string) error {
	return c.tokens.SetToken(token)
}

// ClearToken forgets the stored token.
func (c *Client) ClearToken() error {
	return c.tokens.ClearToken()
}

// FlushRedirect performs a pending login redirect immediately. It reports
// whether one was pending.
func (c *Client) FlushRedirect() bool {
	return c.redirect.flush()
}

// Multipart is a form body with optional file parts.
type Multipart struct {
	Fields map[string]string
	Files  []FilePart
}

// FilePart is one file in a multipart body.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Request describes one API call. Body is JSON-encoded unless Multipart is
// set.
type Request struct {
	Method    string
	Path      string
	Body      any
	Multipart *Multipart
	Header    http.Header

	// Long selects the analysis timeout. Timeout overrides both.
	Long    bool
	Timeout time.Duration

	// Raw keeps a successful response body as bytes instead of parsing it.
	Raw bool
}

// Result is the uniform outcome of a request. HTTP and transport failures
// are reported here rather than as Go errors.
type Result struct {
	Success bool
	Status  int
	Data    json.RawMessage
	Body    []byte
	Header  http.Header
	Error   string
	Message string
	Code    string
	Err     error
}

// AsError returns nil for a successful result and an *Error otherwise.
func (r Result) AsError() error {
	if r.Success {
		return nil
	}
	return &Error{Status: r.Status, Message: r.Error, Code: r.Code, Err: r.Err}
}

// Decode unmarshals the parsed body into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Data, v)
}

// Payload unmarshals the "data" member of the body when present, otherwise
// the whole body.
func (r Result) Payload(v any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := r.Decode(&env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return json.Unmarshal(env.Data, v)
	}
	return r.Decode(v)
}

type encodedBody struct {
	data        []byte
	contentType string
}

func encodeBody(req Request) (*encodedBody, error) {
	if req.Multipart != nil {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for name, value := range req.Multipart.Fields {
			if err := w.WriteField(name, value); err != nil {
				return nil, err
			}
		}
		for _, f := range req.Multipart.Files {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
				escapeQuotes(f.Field), escapeQuotes(f.Filename)))
			ct := f.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			h.Set("Content-Type", ct)
			part, err := w.CreatePart(h)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return &encodedBody{data: buf.Bytes(), contentType: w.FormDataContentType()}, nil
	}
	if req.Body == nil {
		return nil, nil
	}
	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return &encodedBody{data: data, contentType: "application/json"}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// Do sends req, retrying HTTP 429 with exponential backoff.
func (c *Client) Do(ctx context.Context, req Request) Result {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	path := NormalizePath(req.Path)

	body, err := encodeBody(req)
	if err != nil {
		return Result{Error: "요청을 만들 수 없습니다", Err: err}
	}

	timeout := c.timeout
	if req.Long {
		timeout = c.longTimeout
	}
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	var res Result
	for attempt := range maxRetries {
		res = c.doOnce(ctx, req, path, body, timeout)
		if res.Status != http.StatusTooManyRequests {
			return res
		}
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			c.log.Debug("rate limited, backing off", "path", path, "backoff", backoff)
			select {
			case <-ctx.Done():
				return c.transportFailure(ctx, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return res
}

func (c *Client) doOnce(ctx context.Context, req Request, path string, body *encodedBody, timeout time.Duration) Result {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body.data)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, c.baseURL+path, bodyReader)
	if err != nil {
		return Result{Error: "요청을 만들 수 없습니다", Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", body.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	token := c.Token()
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportFailure(ctx, err)
	}
	c.log.Debug("request", "method", req.Method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	res := Result{Status: resp.StatusCode, Header: resp.Header, Body: raw}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if ok && req.Raw {
		res.Success = true
		return res
	}

	res.Data = parseBody(raw)
	var env struct {
		Success *bool   `json:"success"`
		Message *string `json:"message"`
		Error   any     `json:"error"`
		Code    string  `json:"code"`
	}
	_ = json.Unmarshal(res.Data, &env)
	if env.Message != nil {
		res.Message = *env.Message
	}
	res.Code = env.Code

	if ok && (env.Success == nil || *env.Success) {
		res.Success = true
		return res
	}

	res.Error = failureMessage(res.Message, env.Error, resp.StatusCode)
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		c.handleUnauthorized(res)
	}
	return res
}

// parseBody returns raw as JSON when it parses, whatever the declared
// content type, and {"text": raw} otherwise.
func parseBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	wrapped, _ := json.Marshal(map[string]string{"text": string(raw)})
	return wrapped
}

func failureMessage(message string, errField any, status int) string {
	if message != "" {
		return message
	}
	if s, ok := errField.(string); ok && s != "" {
		return s
	}
	return GenericMessage(status)
}

// GenericMessage is the failure text used when the server explains nothing.
func GenericMessage(status int) string {
	return fmt.Sprintf("요청 처리 중 오류가 발생했습니다 (HTTP %d)", status)
}

func (c *Client) transportFailure(ctx context.Context, err error) Result {
	res := Result{Error: MsgConnection, Err: err}
	switch {
	case ctx.Err() != nil:
		res.Error = MsgCancelled
		res.Err = ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		res.Error = MsgTimeout
	}
	c.log.Debug("request failed", "error", err)
	return res
}

func (c *Client) handleUnauthorized(res Result) {
	if err := c.tokens.ClearToken(); err != nil {
		c.log.Warn("clearing token after 401", "error", err)
	}

	reason := ReasonInvalid
	if res.Code == CodeTokenExpired {
		reason = ReasonExpired
	}
	c.log.Info("session rejected by server", "reason", reason, "code", res.Code)
	c.signals.publish(AuthError{Reason: reason, Message: res.Error, Code: res.Code})

	if reason == ReasonExpired {
		c.redirect.schedule()
	}
}
