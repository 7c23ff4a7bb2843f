package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerWorker runs the HTTP server under the supervisor. It listens on each
// run, so a restart after a failure binds the address again.
type ServerWorker struct {
	log             *slog.Logger
	address         string
	handler         http.Handler
	shutdownTimeout time.Duration
	ready           chan net.Addr
}

func NewServerWorker(log *slog.Logger, address string, handler http.Handler, shutdownTimeout time.Duration) *ServerWorker {
	return &ServerWorker{
		log:             log,
		address:         address,
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the first listener is up.
func (w *ServerWorker) Ready() <-chan net.Addr { return w.ready }

func (w *ServerWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.address, err)
	}
	select {
	case w.ready <- listener.Addr():
	default:
	}

	srv := &http.Server{
		Handler:           w.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting HTTP server", "address", listener.Addr().String(), "at", time.Now().UTC())
		errChan <- srv.Serve(listener)
	}()

	select {
	case err = <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		w.log.Warn("HTTP server did not stop gracefully", "error", err)
		_ = srv.Close()
	}
	return nil
}
