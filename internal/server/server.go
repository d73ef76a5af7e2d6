// Package server exposes the task store and the chat orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haricheung/agentic-todo/internal/capability"
	"github.com/haricheung/agentic-todo/internal/dispatch"
	"github.com/haricheung/agentic-todo/internal/metrics"
	"github.com/haricheung/agentic-todo/internal/store"
	"github.com/haricheung/agentic-todo/internal/types"
)

const (
	msgInvalidRequest = "Invalid request"
	msgTaskNotFound   = "Task not found"

	// maxBodyBytes bounds every JSON request body.
	maxBodyBytes = 1 << 20
)

// Chatter runs one chat turn. Implementations never fail; errors are folded
// into the reply text.
type Chatter interface {
	Handle(ctx context.Context, message string) string
}

// History serves recent chat turns, oldest first.
type History interface {
	Recent(limit int) ([]types.Turn, error)
}

// Options wires a Server. History may be nil, which disables /chat/history.
type Options struct {
	Store       dispatch.TaskStore
	Chat        Chatter
	History     History
	Registry    *capability.Registry
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	store    dispatch.TaskStore
	chat     Chatter
	history  History
	registry *capability.Registry
	origins  []string
	log      *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		store:    opts.Store,
		chat:     opts.Chat,
		history:  opts.History,
		registry: opts.Registry,
		origins:  origins,
		log:      logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.allowOrigin}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/capabilities", s.handleCapabilities)
		r.Route("/todos", func(r chi.Router) {
			r.Post("/", s.handleAddTask)
			r.Get("/", s.handleListTasks)
			r.Patch("/{id}", s.handleToggleTask)
			r.Delete("/{id}", s.handleDeleteTask)
		})
	})

	r.Post("/chat", s.handleChat)
	r.Get("/chat/ws", s.handleChatWS)
	if s.history != nil {
		r.Get("/chat/history", s.handleHistory)
	}
	return r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[HTTP] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// instrument records Prometheus request metrics and a structured access log
// line keyed by the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.log.Info("[HTTP] request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

type addTaskBody struct {
	Title       *string `json:"title"`
	Description string  `json:"description"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var body addTaskBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if body.Title == nil {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	task, err := s.store.AddTask(*body.Title, body.Description)
	var ve *store.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	case err != nil:
		s.log.Error("[HTTP] add task", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Tasks())
}

// handleToggleTask sets the completion flag to the given value.
//
// Expectations:
//   - 400 Invalid request when the id is not an integer
//   - 400 Invalid request when completed is absent, null or not a boolean
//   - 404 Task not found when no task has the id
//   - 200 with the updated task otherwise
func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	var body map[string]json.RawMessage
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	var completed *bool
	raw, ok := body["completed"]
	if !ok || json.Unmarshal(raw, &completed) != nil || completed == nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	task, err := s.store.ToggleComplete(id, *completed)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgTaskNotFound)
		return
	case err != nil:
		s.log.Error("[HTTP] toggle task", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask always reports success, whether or not the id existed.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.store.DeleteTask(id))
}

type capabilityView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	descs := s.registry.All()
	out := make([]capabilityView, 0, len(descs))
	for _, d := range descs {
		out = append(out, capabilityView{Name: d.Name, Description: d.Description, Parameters: d.SchemaJSON()})
	}
	writeJSON(w, http.StatusOK, out)
}

type chatBody struct {
	Message *string `json:"message"`
}

type chatReply struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if body.Message == nil || strings.TrimSpace(*body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeJSON(w, http.StatusOK, chatReply{Reply: s.chat.Handle(r.Context(), *body.Message)})
}

// handleChatWS runs one chat turn per {"message": ...} frame and answers
// each with {"reply": ...}. Malformed frames get {"error": ...} and the
// connection stays open.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("[HTTP] websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("[HTTP] websocket read", "error", err)
			}
			return
		}
		var body chatBody
		if err := json.Unmarshal(data, &body); err != nil || body.Message == nil || strings.TrimSpace(*body.Message) == "" {
			if err := conn.WriteJSON(map[string]string{"error": "message is required"}); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(chatReply{Reply: s.chat.Handle(r.Context(), *body.Message)}); err != nil {
			s.log.Warn("[HTTP] websocket write", "error", err)
			return
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, msgInvalidRequest)
			return
		}
		limit = n
	}
	turns, err := s.history.Recent(limit)
	if err != nil {
		s.log.Error("[HTTP] chat history", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("server: decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[HTTP] encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
