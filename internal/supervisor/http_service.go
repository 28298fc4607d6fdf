package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server as a suture service. Canceling the
// Serve context drains in-flight requests for up to drain before returning.
type HTTPServerService struct {
	server HTTPServer
	drain  time.Duration
}

func NewHTTPServerService(server HTTPServer, drain time.Duration) *HTTPServerService {
	if drain <= 0 {
		drain = 10 * time.Second
	}
	return &HTTPServerService{server: server, drain: drain}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	drained := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		dctx, cancel := context.WithTimeout(context.Background(), h.drain)
		defer cancel()
		drained <- h.server.Shutdown(dctx)
	})

	err := h.server.ListenAndServe()

	// stop reports true when ctx was never canceled, so the listener ended
	// on its own.
	if stop() {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}

	if derr := <-drained; derr != nil {
		return fmt.Errorf("http server shutdown failed: %w", derr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return ctx.Err()
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
