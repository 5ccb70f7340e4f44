package oidc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultPorts are the loopback ports tried for the authorization callback,
// in order. The IdP's registered redirect URIs must list them.
var DefaultPorts = []int{12345, 23456}

const callbackSuccessPage = `<!DOCTYPE html>
<html><body>
<p>Authentication complete. You may close this window and return to the terminal.</p>
</body></html>
`

const callbackErrorPage = `<!DOCTYPE html>
<html><body>
<p>Authentication failed: %s</p>
</body></html>
`

// callbackResult is what the IdP redirected back with: an authorization
// code or an error.
type callbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// callbackServer is a short-lived loopback HTTP server that receives the
// authorization redirect. It serves exactly one request and shuts down.
type callbackServer struct {
	server   *http.Server
	listener net.Listener
	resultCh chan *callbackResult
	errorCh  chan error
	once     sync.Once
	baseURL  string
}

// startCallbackServer binds the first available port from the candidate
// list and begins waiting for the redirect. It returns the redirect URI to
// put in the authorization request.
func startCallbackServer(ctx context.Context, ports []int) (*callbackServer, string, error) {
	if len(ports) == 0 {
		ports = DefaultPorts
	}

	var listener net.Listener
	var port int
	var lastErr error
	for _, p := range ports {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			lastErr = err
			continue
		}
		listener = l
		port = p
		break
	}
	if listener == nil {
		return nil, "", fmt.Errorf("no callback port available in %v: %w", ports, lastErr)
	}

	s := &callbackServer{
		listener: listener,
		resultCh: make(chan *callbackResult, 1),
		errorCh:  make(chan error, 1),
		baseURL:  fmt.Sprintf("http://localhost:%d", port),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	return s, s.baseURL + "/", nil
}

// wait blocks until the redirect arrives, the server fails, or the context
// expires.
func (s *callbackServer) wait(ctx context.Context) (*callbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.process(w, r)
	})
	if !handled {
		http.Error(w, "callback already processed", http.StatusBadRequest)
	}
}

func (s *callbackServer) process(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	q := r.URL.Query()
	result := &callbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	if result.Error != "" {
		fmt.Fprintf(w, callbackErrorPage, result.Error)
	} else {
		fmt.Fprint(w, callbackSuccessPage)
	}

	select {
	case s.resultCh <- result:
	default:
	}

	// Give the response time to flush before tearing the server down.
	go func() {
		time.Sleep(1 * time.Second)
		s.stop()
	}()
}

func (s *callbackServer) stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
