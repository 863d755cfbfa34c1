// Package callback provides a minimal loopback HTTP server that receives the
// OAuth authorization callback during a CLI sign-in flow.
package callback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Result captures the outcome of the OAuth callback.
type Result struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Server is a single-use HTTP listener for the OAuth redirect.
type Server struct {
	server  *http.Server
	port    int
	result  chan *Result
	errChan chan error
	mu      sync.Mutex
	running bool
}

// NewServer constructs a callback server bound to the provided port.
func NewServer(port int) *Server {
	return &Server{
		port:    port,
		result:  make(chan *Result, 1),
		errChan: make(chan error, 1),
	}
}

// Start launches the callback listener.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("callback server already running")
	}
	if !s.isPortAvailable() {
		return fmt.Errorf("port %d is already in use", s.port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", s.handleCallback)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.running = true

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errChan <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop gracefully terminates the callback listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return nil
	}
	defer func() {
		s.running = false
		s.server = nil
	}()
	return s.server.Shutdown(ctx)
}

// WaitForCallback blocks until a callback result, server error, or timeout occurs.
func (s *Server) WaitForCallback(timeout time.Duration) (*Result, error) {
	select {
	case res := <-s.result:
		return res, nil
	case err := <-s.errChan:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for OAuth callback")
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if errParam := strings.TrimSpace(query.Get("error")); errParam != "" {
		s.sendResult(&Result{
			Error:            errParam,
			ErrorDescription: strings.TrimSpace(query.Get("error_description")),
		})
		s.writePage(w, "Sign-in failed. You can close this window and try again.")
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		s.sendResult(&Result{Error: "missing_code"})
		s.writePage(w, "Sign-in failed: the provider returned no authorization code.")
		return
	}

	s.sendResult(&Result{Code: code, State: query.Get("state")})
	s.writePage(w, "Sign-in complete. You can close this window and return to the terminal.")
}

func (s *Server) writePage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", message)
}

func (s *Server) sendResult(res *Result) {
	select {
	case s.result <- res:
	default:
		log.Debug("callback result channel full, dropping result")
	}
}

func (s *Server) isPortAvailable() bool {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
