// Package server exposes the importer and the contact overview over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"contact-import/internal/config"
	sheetio "contact-import/internal/io"
	"contact-import/internal/logging"
	"contact-import/internal/processor"
	"contact-import/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Queries is the read and toggle side of the store used by the handlers.
type Queries interface {
	ActionCounts(ctx context.Context, f store.Filter) (store.Stats, error)
	ActionEmails(ctx context.Context, key string, f store.Filter) ([]string, error)
	Contacts(ctx context.Context, f store.Filter) ([]store.ContactRow, error)
	Countries(ctx context.Context) ([]string, error)
	SetFlag(ctx context.Context, contactID int64, key string, value bool) error
	Ping(ctx context.Context) error
}

// newSheetReaderFunc allows overriding the reader factory in tests.
var newSheetReaderFunc = sheetio.NewSheetReader

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	importer  processor.Processor
	queries   Queries
	source    config.SourceConfig
	maxUpload int64
}

// New creates a Server. source supplies the CSV options for uploads; its
// File is ignored.
func New(importer processor.Processor, queries Queries, source config.SourceConfig, serverCfg config.ServerConfig) *Server {
	return &Server{
		importer:  importer,
		queries:   queries,
		source:    source,
		maxUpload: serverCfg.MaxUploadBytes,
	}
}

// Routes returns the router with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/imports", s.handleImport)
	r.Get("/actions", s.handleActionCounts)
	r.Get("/actions/{key}/emails", s.handleActionEmails)
	r.Get("/contacts", s.handleContacts)
	r.Get("/countries", s.handleCountries)
	r.Put("/contacts/{id}/flags/{key}", s.handleSetFlag)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logf(logging.Info, "HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Logf(logging.Info, "Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// requestLogger logs one line per request through the shared zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		if !logging.Enabled(logging.Info) {
			return
		}
		logging.Zap().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
