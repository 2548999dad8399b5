package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Receiver runs a one-shot local HTTP listener that waits for the OAuth
// redirect carrying ?code=. Only one attempt is active at a time.
type Receiver struct {
	addr   string
	logger zerolog.Logger

	mu      sync.Mutex
	pending *attempt
}

type attempt struct {
	server *http.Server
	ln     net.Listener
	state  string
	done   chan struct{}
	once   sync.Once
	code   string
	err    error
}

func (a *attempt) finish(code string, err error) {
	a.once.Do(func() {
		a.code, a.err = code, err
		close(a.done)
	})
}

// NewReceiver creates a receiver listening on addr (host:port) when started.
func NewReceiver(addr string, logger zerolog.Logger) *Receiver {
	return &Receiver{addr: addr, logger: logger}
}

// WaitForCode aborts any previous attempt, starts the listener and blocks
// until an authorization code arrives, the attempt is aborted, or ctx ends.
// onReady is called with the bound address once the listener accepts
// connections.
func (r *Receiver) WaitForCode(ctx context.Context, state string, onReady func(addr string)) (string, error) {
	a, addr, err := r.start(state)
	if err != nil {
		return "", err
	}
	if onReady != nil {
		onReady(addr)
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		r.mu.Lock()
		if r.pending == a {
			r.pending = nil
		}
		r.mu.Unlock()
		a.finish("", ctx.Err())
		a.server.Close()
	}
	return a.code, a.err
}

func (r *Receiver) start(state string) (*attempt, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.abortLocked()

	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return nil, "", fmt.Errorf("starting authorization listener on %s: %w", r.addr, err)
	}

	a := &attempt{state: state, ln: ln, done: make(chan struct{})}
	router := chi.NewRouter()
	router.HandleFunc("/*", r.handle(a))
	a.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	r.pending = a

	go func() {
		err := a.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			a.finish("", fmt.Errorf("authorization listener failed: %w", err))
		}
	}()

	r.logger.Info().Str("addr", ln.Addr().String()).Msg("Waiting for authorization callback")
	return a, ln.Addr().String(), nil
}

// Abort stops the active listener; its pending WaitForCode returns
// ErrAuthorizationAborted.
func (r *Receiver) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortLocked()
}

// Active reports whether an attempt is waiting for a callback.
func (r *Receiver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

func (r *Receiver) abortLocked() {
	if r.pending == nil {
		return
	}
	a := r.pending
	r.pending = nil
	a.finish("", ErrAuthorizationAborted)
	a.server.Close()
}

func (r *Receiver) handle(a *attempt) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		// The next attempt may bind the same port; do not leave a
		// keep-alive connection pointing at this server.
		w.Header().Set("Connection", "close")

		q := req.URL.Query()
		code := q.Get("code")
		if code == "" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "Authorization token required")
			return
		}
		if st := q.Get("state"); a.state != "" && st != "" && st != a.state {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "Authorization state mismatch")
			return
		}

		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "Authorization code received successfully! You can now close this window.")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		r.release(a)
		a.finish(code, nil)
	}
}

// release frees the port before the attempt reports its code, then drains
// the remaining connections in the background.
func (r *Receiver) release(a *attempt) {
	r.mu.Lock()
	if r.pending == a {
		r.pending = nil
	}
	if err := a.ln.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("Authorization listener close")
	}
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			r.logger.Debug().Err(err).Msg("Authorization listener shutdown")
		}
	}()
}
