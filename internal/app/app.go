package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/you-humble/docconv/internal/transport"
)

// abortGrace bounds how long aborted requests get to kill their converter
// processes and remove their job files once graceful shutdown has run out.
const abortGrace = 5 * time.Second

type app struct {
	di  *dependencyInjector
	srv *http.Server
	// abortRequests cancels the context of every request still running.
	abortRequests context.CancelFunc
}

// New loads the configuration and checks every startup precondition: the
// work directories, the converter tools and the history store. Any failure
// terminates the process.
func New(ctx context.Context, opts Options) *app {
	di := newDI(opts)
	di.Logger()
	mux := http.NewServeMux()

	srv, abortRequests := newHTTPServer(
		di.Config().Addr,
		transport.WithCORS(
			transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		),
	)

	return &app{
		di:            di,
		srv:           srv,
		abortRequests: abortRequests,
	}
}

// newHTTPServer roots every request context in one cancellable context, so
// shutdown can stop conversions that outlive the graceful period.
func newHTTPServer(addr string, h http.Handler) (*http.Server, context.CancelFunc) {
	reqCtx, abort := context.WithCancel(context.Background())

	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}, abort
}

// shutdownHTTP waits for in-flight requests until ctx expires. Requests
// still running then are cancelled, which kills their converter processes,
// and get abortGrace to clean up before the connections are closed.
func shutdownHTTP(ctx context.Context, srv *http.Server, abortRequests context.CancelFunc, grace time.Duration) error {
	err := srv.Shutdown(ctx)
	abortRequests()
	if err == nil {
		return nil
	}

	slog.Warn("graceful shutdown timed out, aborting in-flight requests",
		slog.String("error", err.Error()),
	)

	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if e := srv.Shutdown(graceCtx); e != nil {
		slog.Error("aborted requests did not finish", slog.String("error", e.Error()))
		_ = srv.Close()
	}
	return err
}

func (a *app) Run(ctx context.Context) error {
	defer a.di.Close()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	a.di.Janitor().Start(bgCtx)
	if p := a.di.Publisher(); p != nil {
		p.Start(bgCtx)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	if g := a.di.GRPC(); g != nil {
		go func() {
			if e := g.ListenAndServe(); e != nil {
				slog.Error("grpc server error", slog.String("error", e.Error()))
				errCh <- e
			}
		}()
		g.SetServing(true)
	}

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	if err := a.shutdown(stopBackground); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *app) shutdown(stopBackground context.CancelFunc) error {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if g := a.di.GRPC(); g != nil {
		g.SetServing(false)
	}

	if err := shutdownHTTP(shutdownCtx, a.srv, a.abortRequests, abortGrace); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if g := a.di.GRPC(); g != nil {
		if err := g.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if p := a.di.Publisher(); p != nil {
		if err := p.Stop(shutdownCtx); err != nil {
			slog.Warn("event publisher stop", slog.String("error", err.Error()))
		}
	}

	stopBackground()
	select {
	case <-a.di.Janitor().Done():
	case <-shutdownCtx.Done():
	}

	if len(errs) == 0 {
		slog.Info("server gracefully stopped")
	}
	return errors.Join(errs...)
}
