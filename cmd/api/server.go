package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// serve runs server on ln until ctx is done, then shuts it down and waits
// up to drainTimeout for in-flight requests to finish.
func serve(ctx context.Context, server *http.Server, ln net.Listener, drainTimeout time.Duration) error {
	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		shutdown <- server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	// Serve returns as soon as Shutdown starts; Shutdown returns after the drain
	if err := <-shutdown; err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
