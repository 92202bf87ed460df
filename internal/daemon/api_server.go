package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"queueflow/internal/api"
	"queueflow/internal/logging"
	"queueflow/internal/queue"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	svc     *api.QueueService
	limiter *limiterPool
	router  *mux.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(bind),
		token:   token,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		svc:     d.service,
		limiter: d.limiter,
	}
	srv.router = srv.routes()
	return srv
}

func (s *apiServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.logMiddleware)
	if s.daemon != nil && s.daemon.metrics != nil {
		r.Handle("/metrics", s.daemon.metrics.Handler()).Methods(http.MethodGet)
	}

	a := r.PathPrefix("/api").Subrouter()
	a.Use(authMiddleware(s.token))

	a.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	a.HandleFunc("/queues", s.handleCreateQueue).Methods(http.MethodPost)
	a.HandleFunc("/queues", s.handleListQueues).Methods(http.MethodGet)
	a.HandleFunc("/queues/{id:[0-9]+}", s.handleGetQueue).Methods(http.MethodGet)
	a.HandleFunc("/queues/{id:[0-9]+}", s.handleUpdateQueue).Methods(http.MethodPatch)
	a.HandleFunc("/queues/{id:[0-9]+}", s.handleDeleteQueue).Methods(http.MethodDelete)
	a.HandleFunc("/queues/{id:[0-9]+}/pause", s.handlePauseQueue).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/resume", s.handleResumeQueue).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/reset", s.handleResetQueue).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/retry-failed", s.handleRetryFailed).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/tickets", s.handleEnqueueTicket).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/tasks", s.handleEnqueueTask).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/tickets/{tid:[0-9]+}/cascade", s.handleCascade).Methods(http.MethodPost)
	a.HandleFunc("/queues/{id:[0-9]+}/next", s.handleNext).Methods(http.MethodPost)

	a.HandleFunc("/tickets", s.handleCreateTicket).Methods(http.MethodPost)
	a.HandleFunc("/tickets/{id:[0-9]+}", s.handleGetTicket).Methods(http.MethodGet)
	a.HandleFunc("/tickets/{id:[0-9]+}", s.handleDeleteTicket).Methods(http.MethodDelete)
	a.HandleFunc("/tickets/{id:[0-9]+}/tasks", s.handleAddTask).Methods(http.MethodPost)
	a.HandleFunc("/tasks/{id:[0-9]+}", s.handleDeleteTask).Methods(http.MethodDelete)

	a.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	a.HandleFunc("/items/batch", s.handleBatchEnqueue).Methods(http.MethodPost)
	a.HandleFunc("/items/{type}/{itemId:[0-9]+}", s.handleGetItem).Methods(http.MethodGet)
	a.HandleFunc("/items/{type}/{itemId:[0-9]+}/complete", s.handleComplete).Methods(http.MethodPost)
	a.HandleFunc("/items/{type}/{itemId:[0-9]+}/fail", s.handleFail).Methods(http.MethodPost)
	a.HandleFunc("/items/{type}/{itemId:[0-9]+}/requeue", s.handleRequeue).Methods(http.MethodPost)
	a.HandleFunc("/items/{type}/{itemId:[0-9]+}/cancel", s.handleCancel).Methods(http.MethodPost)

	a.HandleFunc("/maintenance/cleanup", s.handleCleanup).Methods(http.MethodPost)
	a.HandleFunc("/maintenance/dead-letter", s.handleDeadLetter).Methods(http.MethodPost)
	a.HandleFunc("/maintenance/refresh-stats", s.handleRefreshStats).Methods(http.MethodPost)
	a.HandleFunc("/dead-letters", s.handleListDeadLetters).Methods(http.MethodGet)

	a.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	a.HandleFunc("/health/database", s.handleDatabaseHealth).Methods(http.MethodGet)
	a.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

func (s *apiServer) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// serve blocks until ctx is cancelled or the server fails.
func (s *apiServer) serve(ctx context.Context) error {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.mu.Unlock()
	if server == nil {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		<-errCh
		s.clear()
		if err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		s.clear()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	}
}

func (s *apiServer) clear() {
	s.mu.Lock()
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *apiServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.WithContext(r.Context(), s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req api.CreateQueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.svc.CreateQueue(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *apiServer) handleListQueues(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.queryInt64(w, r, "projectId")
	if !ok {
		return
	}
	queues, err := s.svc.ListQueues(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (s *apiServer) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.DescribeQueue(r.Context(), pathInt64(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateQueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.svc.UpdateQueue(r.Context(), pathInt64(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *apiServer) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.svc.DeleteQueue)
}

func (s *apiServer) handleResetQueue(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.svc.ResetQueue)
}

func (s *apiServer) handlePauseQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.PauseQueue(r.Context(), pathInt64(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *apiServer) handleResumeQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.ResumeQueue(r.Context(), pathInt64(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *apiServer) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	var req api.RetryFailedRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.RetryFailed(r.Context(), pathInt64(r, "id"), req.IDs...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleEnqueueTicket(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueOwnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.svc.EnqueueTicket(r.Context(), pathInt64(r, "id"), req.TicketID, req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueOwnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.svc.EnqueueTask(r.Context(), pathInt64(r, "id"), req.TaskID, req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleCascade(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueOwnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.EnqueueTicketWithAllTasks(r.Context(), pathInt64(r, "id"), pathInt64(r, "tid"), req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleBatchEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.BatchEnqueueRequest
	if !s.decode(w, r, &req) {
		return
	}
	items, err := s.svc.BatchEnqueue(r.Context(), req.Items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *apiServer) handleNext(w http.ResponseWriter, r *http.Request) {
	var req api.NextRequest
	if !s.decode(w, r, &req) {
		return
	}
	queueID := pathInt64(r, "id")
	agent := strings.TrimSpace(req.AgentID)
	ctx := logging.WithAgentID(r.Context(), agent)
	if !s.limiter.Allow(agent) {
		s.writeError(w, r.WithContext(ctx), fmt.Errorf("%w: agent %q exceeded dispatch rate", api.ErrRateLimited, agent))
		return
	}
	resp, err := s.svc.Next(ctx, queueID, agent)
	if err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTicketRequest
	if !s.decode(w, r, &req) {
		return
	}
	ticket, err := s.svc.CreateTicket(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *apiServer) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.svc.DescribeTicket(r.Context(), pathInt64(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *apiServer) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.svc.DeleteTicket)
}

func (s *apiServer) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req api.AddTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	task, err := s.svc.AddTask(r.Context(), pathInt64(r, "id"), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *apiServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	s.writeCount(w, r, s.svc.DeleteTask)
}

func (s *apiServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	queueID, ok := s.queryInt64(w, r, "queueId")
	if !ok {
		return
	}
	limit, ok := s.queryInt64(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	items, err := s.svc.ListItems(r.Context(), api.ItemQuery{
		QueueID:  queueID,
		Status:   q.Get("status"),
		ItemType: q.Get("itemType"),
		Limit:    int(limit),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *apiServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, err := s.svc.DescribeItem(r.Context(), vars["type"], pathInt64(r, "itemId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "work item not found", Code: "item_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.Complete)
}

func (s *apiServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.Requeue)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.Cancel)
}

func (s *apiServer) handleFail(w http.ResponseWriter, r *http.Request) {
	var req api.FailRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, func(ctx context.Context, itemType string, itemID int64) (api.WorkItem, error) {
		return s.svc.Fail(ctx, itemType, itemID, req.ErrorMessage)
	})
}

func (s *apiServer) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, int64) (api.WorkItem, error)) {
	item, err := fn(r.Context(), mux.Vars(r)["type"], pathInt64(r, "itemId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req api.CleanupRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Cleanup(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req api.DeadLetterRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.MoveFailedToDeadLetter(r.Context(), req.QueueID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleRefreshStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.RefreshStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	queueID, ok := s.queryInt64(w, r, "queueId")
	if !ok {
		return
	}
	letters, err := s.svc.ListDeadLetters(r.Context(), queueID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.queryInt64(w, r, "projectId")
	if !ok {
		return
	}
	report, err := s.svc.Health(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleDatabaseHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.svc.CheckDatabase(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.QueueStatsResponse{Counts: counts})
}

func (s *apiServer) writeCount(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (api.CountResponse, error)) {
	resp, err := fn(r.Context(), pathInt64(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads an optional JSON body into dst. An empty body leaves dst zeroed.
func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, fmt.Errorf("%w: decode request body: %v", queue.ErrInvalidInput, err))
		return false
	}
	return true
}

func (s *apiServer) queryInt64(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		s.writeError(w, r, fmt.Errorf("%w: %s must be a non-negative integer", queue.ErrInvalidInput, key))
		return 0, false
	}
	return value, true
}

// pathInt64 parses a route variable already constrained to digits by the router.
func pathInt64(r *http.Request, key string) int64 {
	value, _ := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusCode(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("api request failed",
			logging.String("path", r.URL.Path),
			slog.Int("status", status),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected",
			logging.String("path", r.URL.Path),
			slog.Int("status", status),
			logging.Error(err),
		)
	}
	writeJSON(w, status, api.NewErrorResponse(err))
}
