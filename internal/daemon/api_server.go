package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"clipfit/internal/api"
	"clipfit/internal/config"
	"clipfit/internal/delivery"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/services"
	"clipfit/internal/workflow"
)

const (
	maxSubmitBody       = 64 << 10
	defaultListLimit    = 50
	maxListLimit        = 500
	sseHeartbeat        = 15 * time.Second
	httpRequesterPrefix = "http:"
	telegramPrefix      = "telegram:"
)

type apiServer struct {
	bind      string
	token     string
	logger    *slog.Logger
	daemon    *Daemon
	limiter   *rate.Limiter
	retention time.Duration
	heartbeat time.Duration
	// relayTelegram lets an authenticated bot front end submit on behalf of
	// telegram chats.
	relayTelegram bool

	mu       sync.Mutex
	timers   map[string]*time.Timer
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	limit := rate.Inf
	if cfg.API.SubmitRate > 0 {
		limit = rate.Limit(cfg.API.SubmitRate)
	}
	burst := cfg.API.SubmitBurst
	if burst < 1 {
		burst = 1
	}
	srv := &apiServer{
		bind:      bind,
		token:     cfg.API.Token,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		daemon:    d,
		limiter:   rate.NewLimiter(limit, burst),
		retention: cfg.FileRetention(),
		heartbeat: sseHeartbeat,
		timers:    make(map[string]*time.Timer),

		relayTelegram: cfg.Telegram.Enabled && strings.TrimSpace(cfg.API.Token) != "",
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.token))
		r.Get("/status", s.handleStatus)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Get("/{id}/events", s.handleEvents)
			r.Get("/{id}/file", s.handleGetFile)
			r.Delete("/{id}/file", s.handleDeleteFile)
		})
	})
	return r
}

func (s *apiServer) start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.listener = nil
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "too many requests", "")
		return
	}
	var req api.SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", string(services.ErrorKindValidation))
		return
	}
	requester := s.resolveRequester(req.Requester, r)
	id, err := s.daemon.workflow.Submit(r.Context(), workflow.Request{
		RequesterID: requester,
		URL:         req.URL,
		Kind:        media.OutputKind(strings.TrimSpace(req.Kind)),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	base := "/api/jobs/" + id
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{
		JobID:     id,
		Requester: requester,
		EventsURL: base + "/events",
		FileURL:   base + "/file",
	})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var statuses []jobstore.Status
	for _, value := range query["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := jobstore.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value), string(services.ErrorKindValidation))
			return
		}
		statuses = append(statuses, status)
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit", string(services.ErrorKindValidation))
			return
		}
		limit = min(parsed, maxListLimit)
	}

	records, err := s.daemon.store.List(r.Context(), limit, statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	jobs := api.FromRecords(records)
	for i := range jobs {
		if snap, ok := s.daemon.workflow.Job(jobs[i].ID); ok {
			jobs[i].Progress = api.FromSnapshot(snap).Progress
		}
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap, ok := s.daemon.workflow.Job(id); ok {
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromSnapshot(snap)})
		return
	}
	rec, err := s.daemon.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found", string(services.ErrorKindNotFound))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromRecord(rec)})
}

// handleEvents streams hub events as server-sent events. The stream starts
// with the latest event and ends after a terminal one.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	_, live := s.daemon.workflow.Job(id)
	_, seen := s.daemon.hub.Last(id)
	var final *delivery.Event
	if !live && !seen {
		rec, err := s.daemon.store.Get(ctx, id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "job not found", string(services.ErrorKindNotFound))
			return
		}
		if rec.Status.Finished() {
			final = recordEvent(rec)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	fmt.Fprint(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	if final != nil {
		_ = s.writeEvent(w, rc, *final)
		return
	}

	events, cancel := s.daemon.hub.Subscribe(id)
	defer cancel()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeEvent(w, rc, event); err != nil {
				return
			}
			if event.Terminal() {
				return
			}
		}
	}
}

func (s *apiServer) writeEvent(w http.ResponseWriter, rc *http.ResponseController, event delivery.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	return rc.Flush()
}

// handleGetFile serves the delivered artifact and schedules its removal.
func (s *apiServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, err := s.daemon.hub.File(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not available", string(services.ErrorKindNotFound))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not available", string(services.ErrorKindNotFound))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat file", "")
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	http.ServeContent(w, r, name, info.ModTime(), f)
	s.scheduleRemoval(id)
}

func (s *apiServer) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.cancelRemoval(id)
	if err := s.daemon.hub.RemoveFile(id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) scheduleRemoval(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
	}
	s.timers[id] = time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		if err := s.daemon.hub.RemoveFile(id); err != nil {
			s.logger.Warn("failed to remove served file", logging.String(logging.FieldJobID, id), logging.Error(err))
			return
		}
		s.logger.Debug("served file removed", logging.String(logging.FieldJobID, id))
	})
}

func (s *apiServer) cancelRemoval(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	details := services.Details(err)
	switch {
	case errors.Is(err, workflow.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, workflow.UserMessage(err), string(details.Kind))
	case errors.Is(err, services.ErrConcurrencyRejected):
		s.writeError(w, http.StatusConflict, workflow.UserMessage(err), string(details.Kind))
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error(), string(details.Kind))
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error(), string(details.Kind))
	default:
		s.log().Error("request failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, workflow.UserMessage(err), string(details.Kind))
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.NewNop()
}

func (s *apiServer) resolveRequester(requested string, r *http.Request) string {
	trimmed := strings.TrimSpace(requested)
	if s.relayTelegram && strings.HasPrefix(trimmed, telegramPrefix) && len(trimmed) > len(telegramPrefix) {
		return trimmed
	}
	return httpRequester(requested, r)
}

// httpRequester scopes HTTP submissions to the http delivery scheme. An empty
// requester falls back to the client address.
func httpRequester(requested string, r *http.Request) string {
	requested = strings.TrimSpace(requested)
	requested = strings.TrimPrefix(requested, httpRequesterPrefix)
	if requested == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		requested = host
	}
	return httpRequesterPrefix + requested
}

// recordEvent rebuilds the terminal event of a job the hub no longer tracks.
func recordEvent(rec *jobstore.Record) *delivery.Event {
	event := delivery.Event{JobID: rec.ID, Type: delivery.EventError, Message: rec.ErrorMessage}
	if rec.FinishedAt != nil {
		event.Timestamp = rec.FinishedAt.UnixMilli()
	}
	if rec.Status == jobstore.StatusCompleted {
		event.Type = delivery.EventReady
		event.Message = rec.Title
		event.FileName = rec.FileName
		event.Size = rec.FinalSize
	} else if event.Message == "" {
		event.Message = rec.ErrorKind
	}
	return &event
}
