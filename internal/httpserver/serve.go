package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/panyam/secretgate/internal/logutil"
)

// Serve runs handler on bind until ctx is cancelled, then shuts down
// gracefully. It returns the listener error, if any.
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	server := http.Server{
		Handler:           handler,
		Addr:              bind,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute * 5,
	}
	return serve(ctx, &server)
}

func serve(ctx context.Context, server *http.Server) error {
	log := logutil.FromContext(ctx).With().Str("server.addr", server.Addr).Logger()
	if server.BaseContext == nil {
		// requests start out with the server's logger
		server.BaseContext = func(net.Listener) context.Context {
			return logutil.WithLogger(context.Background(), log)
		}
	}

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		log.Info().Msg("Starting HTTP server")
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			return
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Initiating shutdown process")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Shutdown completed")
	return <-errc
}
