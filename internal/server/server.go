package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tdh8316/nameprobe/internal/data"
	"github.com/tdh8316/nameprobe/internal/progress"
	"github.com/tdh8316/nameprobe/internal/report"
	"github.com/tdh8316/nameprobe/internal/scan"
)

const shutdownTimeout = 5 * time.Second

// Server exposes scans over HTTP and websocket.
type Server struct {
	scanner *scan.Scanner
	catalog *data.SitesFile
	log     logrus.FieldLogger

	// OriginPatterns are passed to websocket.Accept; empty means same origin only.
	OriginPatterns []string
}

func New(scanner *scan.Scanner, catalog *data.SitesFile, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		scanner: scanner,
		catalog: catalog,
		log:     logger,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/is_ok", s.isOK)
	r.Get("/ws/{username}", s.stream)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sites", s.listSites)
		r.Get("/check/{username}", s.check)
	})
	return r
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.WithField("addr", ln.Addr().String()).Info("server listening")

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

func (s *Server) isOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// stream upgrades to a websocket and pushes one message per finished probe,
// then a completion message, then closes normally.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	logger := s.log.WithFields(logrus.Fields{
		"username":   username,
		"request_id": middleware.GetReqID(r.Context()),
	})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.OriginPatterns})
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()
	logger.Info("websocket connected")

	// a closed peer cancels the remaining probes
	ctx := conn.CloseRead(r.Context())

	sink := progress.NewStream(conn, logger)
	done := progress.SinkFunc(func(_ context.Context, ev progress.Event) {
		if c, ok := ev.(progress.Completion); ok {
			logger.WithField("total", c.Total).Info("scan streamed")
		}
	})
	_, err = s.scanner.ScanUsername(ctx, username, s.catalog.Sites, progress.Multi(sink, done))
	switch {
	case errors.Is(err, scan.ErrEmptyUsername):
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	case err != nil:
		logger.WithError(err).Info("scan stopped early")
		return
	case sink.Broken():
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "scan complete")
}

// check runs a scan and answers with the JSON report. An optional
// ?sites=a,b query restricts the scan to matching site names.
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	sites := s.catalog.Sites
	if raw := r.URL.Query().Get("sites"); raw != "" {
		filtered, unknown, err := data.Filter(sites, splitList(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(unknown) > 0 {
			writeError(w, http.StatusBadRequest, errors.Errorf("unknown sites: %s", strings.Join(unknown, ", ")))
			return
		}
		sites = filtered
	}

	results, err := s.scanner.ScanUsername(r.Context(), username, sites, progress.Nop)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, scan.ErrEmptyUsername) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := report.WriteJSON(w, report.New(username, results)); err != nil {
		s.log.WithError(err).Warn("write report response")
	}
}

type sitesResponse struct {
	Count      int      `json:"count"`
	Categories []string `json:"categories"`
	Sites      []string `json:"sites"`
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	resp := sitesResponse{
		Count:      len(s.catalog.Sites),
		Categories: make([]string, 0, len(s.catalog.Categories)),
		Sites:      make([]string, 0, len(s.catalog.Sites)),
	}
	resp.Categories = append(resp.Categories, s.catalog.Categories...)
	sort.Strings(resp.Categories)
	for _, sd := range s.catalog.Sites {
		resp.Sites = append(resp.Sites, sd.Name)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"elapsed":    time.Since(start).Round(time.Millisecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
