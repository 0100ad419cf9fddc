package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	shutdownGrace     = 250 * time.Millisecond
	readHeaderTimeout = 10 * time.Second
)

// Request is the single redirect the provider sends back to the loopback listener.
type Request struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	Query            url.Values
}

func (r Request) HasCode() bool {
	return r.Code != ""
}

func (r Request) HasError() bool {
	return r.Error != ""
}

// BindError reports that the fixed redirect address could not be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listener accepts exactly one callback on its path and then shuts itself down.
// Every other request gets a plain acknowledgement and is otherwise ignored.
type Listener struct {
	path     string
	listener net.Listener
	server   *http.Server

	requests  chan Request
	delivered sync.Once

	stopOnce sync.Once
	stopErr  error
	served   chan struct{}
}

// Start binds addr and serves in the background. It never blocks on the accept loop.
func Start(addr, path string) (*Listener, error) {
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	l := &Listener{
		path:     path,
		listener: ln,
		requests: make(chan Request, 1),
		served:   make(chan struct{}),
	}
	l.server = &http.Server{
		Handler:           l.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	l.server.SetKeepAlivesEnabled(false)

	go l.serve()

	log.Debug().Str("addr", ln.Addr().String()).Str("path", path).Msg("Callback listener started")
	return l, nil
}

func (l *Listener) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(l.path, l.handleCallback).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(acknowledge)
	r.MethodNotAllowedHandler = http.HandlerFunc(acknowledge)
	return r
}

func (l *Listener) serve() {
	defer close(l.served)
	if err := l.server.Serve(l.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err(err).Msg("Callback listener stopped unexpectedly")
	}
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := Request{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
		Query:            query,
	}

	accepted := false
	l.delivered.Do(func() {
		l.requests <- req
		accepted = true
	})
	if !accepted {
		log.Debug().Str("path", r.URL.Path).Msg("Ignoring repeated callback")
		acknowledge(w, r)
		return
	}

	writeResultPage(w, req)
	// Shutdown waits for this handler to return, so it cannot run inline.
	go func() { _ = l.Stop() }()
}

// Requests yields at most one Request. It is never closed.
func (l *Listener) Requests() <-chan Request {
	return l.requests
}

// Addr is the bound address, useful when the listener was started on port 0.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Done is closed once the accept loop has exited and the port is released.
func (l *Listener) Done() <-chan struct{} {
	return l.served
}

// Stop shuts the server down and waits for the port to be released.
// It is idempotent and safe after the listener has stopped itself.
func (l *Listener) Stop() error {
	l.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			// Browsers pre-connect sockets they never use, and Shutdown does not
			// treat a fresh connection as idle for several seconds.
			log.Debug().Err(err).Msg("Callback listener grace period over, closing connections")
			if closeErr := l.server.Close(); closeErr != nil {
				l.stopErr = fmt.Errorf("server.Close: %w", closeErr)
			}
		}
		log.Debug().Str("addr", l.listener.Addr().String()).Msg("Callback listener stopped")
	})
	<-l.served
	return l.stopErr
}

func acknowledge(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
