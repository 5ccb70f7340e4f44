package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fedclient/pkg/fedora"
	fedstrings "fedclient/pkg/strings"
)

// AuthMode selects how a request is authenticated.
type AuthMode int

const (
	// AuthNone sends the request anonymously.
	AuthNone AuthMode = iota

	// AuthSession authenticates with the session cookie and stamps the URL
	// with the CSRF token. BaseClient only.
	AuthSession

	// AuthBasic sends the configured credentials as HTTP basic auth.
	// BaseClient only.
	AuthBasic

	// AuthPassword sends the configured credentials as the legacy
	// TurboGears login parameters (user_name, password, login) alongside
	// the request's own parameters. BaseClient only.
	AuthPassword

	// AuthBearer sends the managed OpenID Connect token as a bearer
	// header. OIDCClient only.
	AuthBearer
)

// Request describes one call through the envelope. Path is relative to the
// client's base URL and may carry its own query string, which is preserved
// as-is while the path segments are percent-encoded.
type Request struct {
	Path string

	// Verb is GET or POST. Empty means GET.
	Verb string

	// Params travel in the query string for GET and in the body for POST.
	Params map[string]string

	// FileParams maps form field names to local file paths, sent as a
	// multipart POST body alongside Params.
	FileParams map[string][]string

	// Headers are set after the envelope's defaults and therefore
	// override them.
	Headers map[string]string

	// Auth selects the authentication mode. The zero value is anonymous.
	Auth AuthMode

	// Retries overrides the client-wide retry count for this call.
	// Negative means retry without bound.
	Retries *int

	// Timeout overrides the client-wide per-attempt timeout.
	Timeout *time.Duration
}

// errNeedsReauth flows from response classification to the send loop and
// nowhere else. It marks an answer that means "your session is gone": a 401,
// a 403, a residual redirect, or a 200 carrying the login form descriptor.
var errNeedsReauth = errors.New("server requires reauthentication")

// transientError wraps a failure the retry policy is allowed to spend a
// retry on: a timeout or a 5xx answer.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }

func (t *transientError) Unwrap() error { return t.err }

// envelope issues HTTP requests with the shared retry, timeout, and
// error-classification policy. The facades own authentication and hand it in
// as callbacks: authorize decorates each attempt, reauth re-establishes
// credentials and is invoked at most once per send.
type envelope struct {
	baseURL string
	client  *http.Client
	opts    options
	log     *slog.Logger
}

func (e *envelope) send(ctx context.Context, req *Request, authorize func(*http.Request) error, reauth func(context.Context) error) (map[string]any, error) {
	retries := e.opts.retries
	if req.Retries != nil {
		retries = *req.Retries
	}
	timeout := e.opts.timeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}

	target, err := e.requestURL(req)
	if err != nil {
		return nil, err
	}

	failures := 0
	reauthed := false
	for {
		doc, err := e.attempt(ctx, req, target, timeout, authorize)
		var transient *transientError
		switch {
		case err == nil:
			return doc, nil

		case errors.Is(err, errNeedsReauth):
			if reauthed || reauth == nil {
				return nil, &fedora.AuthError{Message: "server rejected the session for " + target}
			}
			e.log.Debug("session rejected, logging in again", "url", target)
			if err := reauth(ctx); err != nil {
				return nil, err
			}
			reauthed = true

		case errors.As(err, &transient):
			failures++
			if retries >= 0 && failures > retries {
				return nil, transient.err
			}
			e.log.Debug("transient failure, will retry",
				"url", target,
				"failures", failures,
				"error", transient.err.Error(),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.opts.retrySleep):
			}

		default:
			return nil, err
		}
	}
}

// attempt issues the request once and classifies the answer. Transient
// failures come back wrapped in transientError, auth failures as
// errNeedsReauth, everything else as a terminal typed error.
func (e *envelope) attempt(ctx context.Context, req *Request, target string, timeout time.Duration, authorize func(*http.Request) error) (map[string]any, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hreq, err := e.build(actx, req, target)
	if err != nil {
		return nil, err
	}
	if authorize != nil {
		if err := authorize(hreq); err != nil {
			return nil, err
		}
	}

	if e.opts.debug {
		e.log.Debug("sending request", "verb", hreq.Method, "url", target)
	}

	resp, err := e.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			return nil, &transientError{&fedora.ServerError{
				URL:    target,
				Status: -1,
				Reason: fmt.Sprintf("timeout after %s", timeout),
			}}
		}
		return nil, &fedora.ServerError{URL: target, Status: -1, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fedora.ServerError{URL: target, Status: resp.StatusCode, Reason: err.Error()}
	}

	if e.opts.debug {
		e.log.Debug("received response", "url", target, "status", resp.StatusCode, "bytes", len(body))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errNeedsReauth
	case resp.StatusCode >= 500:
		return nil, &transientError{&fedora.ServerError{
			URL:    target,
			Status: resp.StatusCode,
			Reason: http.StatusText(resp.StatusCode),
		}}
	case resp.StatusCode >= 400:
		return nil, &fedora.ServerError{URL: target, Status: resp.StatusCode, Reason: snippet(body)}
	case resp.StatusCode >= 300:
		// A redirect that survived the client's redirect handling is the
		// start of a login chain.
		return nil, errNeedsReauth
	}

	// JSON is required to be UTF-8 and decoded as such; the server's
	// charset header is not consulted.
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &fedora.ServerError{
			URL:    target,
			Status: resp.StatusCode,
			Reason: "non-JSON response: " + snippet(body),
		}
	}

	if exc, ok := doc["exc"].(string); ok && exc != "" {
		return nil, &fedora.AppError{Name: exc, Message: flashMessage(doc)}
	}

	// Some services answer 200 with their login form descriptor instead
	// of a 401 when the session has expired.
	if _, ok := doc["logging_in"]; ok {
		return nil, errNeedsReauth
	}

	return doc, nil
}

func (e *envelope) build(ctx context.Context, req *Request, target string) (*http.Request, error) {
	verb := req.Verb
	if verb == "" {
		verb = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	switch {
	case len(req.FileParams) > 0:
		if verb != http.MethodPost {
			return nil, fmt.Errorf("file uploads require POST, got %s", verb)
		}
		data, ct, err := multipartBody(req.Params, req.FileParams)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		contentType = ct
	case verb == http.MethodPost:
		form := url.Values{}
		for k, v := range req.Params {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		target = appendParams(target, req.Params)
	}

	hreq, err := http.NewRequestWithContext(ctx, verb, target, body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("User-Agent", e.opts.userAgent)
	hreq.Header.Set("Accept", "application/json")
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	return hreq, nil
}

// requestURL joins the request path onto the base URL, percent-encoding each
// path segment while passing any query string through untouched.
func (e *envelope) requestURL(req *Request) (string, error) {
	pathPart, query, _ := strings.Cut(req.Path, "?")

	segs := strings.Split(strings.TrimPrefix(pathPart, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	target := e.baseURL + strings.Join(segs, "/")
	if query != "" {
		target += "?" + query
	}
	if e.opts.tgFormatJSON {
		target = appendParams(target, map[string]string{"tg_format": "json"})
	}
	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", target, err)
	}
	return target, nil
}

func appendParams(target string, params map[string]string) string {
	if len(params) == 0 {
		return target
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + q.Encode()
}

func multipartBody(params map[string]string, files map[string][]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for field, paths := range files {
		for _, path := range paths {
			f, err := os.Open(path)
			if err != nil {
				return nil, "", fmt.Errorf("cannot open upload %s: %w", path, err)
			}
			part, err := w.CreateFormFile(field, filepath.Base(path))
			if err == nil {
				_, err = io.Copy(part, f)
			}
			f.Close()
			if err != nil {
				return nil, "", fmt.Errorf("cannot read upload %s: %w", path, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// flashMessage extracts the human-readable part of an application error
// document. tg_flash is the TurboGears convention, message the newer one.
func flashMessage(doc map[string]any) string {
	if s, ok := doc["tg_flash"].(string); ok && s != "" {
		return s
	}
	if s, ok := doc["message"].(string); ok && s != "" {
		return s
	}
	return "unknown application error"
}

func snippet(body []byte) string {
	return fedstrings.TruncateOneLine(string(body), fedstrings.DefaultSnippetMaxLen)
}
