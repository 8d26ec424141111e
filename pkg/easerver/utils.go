package easerver

import (
	"context"
	"net/http"
)

// helper for adapting context cancellation to shutdown the HTTP listener
func cancelableServer(ctx context.Context, srv *http.Server, listener func() error) error {
	shutdownerCtx, cancel := context.WithCancel(ctx)

	shutdownResult := make(chan error, 1)

	go func() {
		// triggered by parent cancellation
		// (or below for cleanup if ListenAndServe() failed by itself)
		<-shutdownerCtx.Done()

		// can't use parent ctx b/c it'd cancel the Shutdown() itself
		shutdownResult <- srv.Shutdown(context.Background())
	}()

	err := listener()

	// listener might have failed before parent cancellation, so shutdowner would still wait
	cancel()

	if err == http.ErrServerClosed { // expected for graceful shutdown (not actually error)
		return <-shutdownResult // should be nil, unless shutdown fails
	} else {
		return err
	}
}
