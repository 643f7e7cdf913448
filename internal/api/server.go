package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server exposes the inbound webhook and the admin endpoints.
type Server struct {
	addr    string
	msgs    messaging.Service
	store   store.Store
	webhook http.HandlerFunc
	httpSrv *http.Server
}

// NewServer creates the API server. webhook is the transport-specific
// inbound message handler mounted at POST /webhook.
func NewServer(msgs messaging.Service, st store.Store, webhook http.HandlerFunc, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{addr: cfg.Addr, msgs: msgs, store: st, webhook: webhook}
}

// Start begins serving HTTP in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/users", s.usersHandler)
	mux.HandleFunc("/reminders", s.remindersHandler)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// webhookHandler mounts the transport webhook behind a recovery boundary:
// an unhandled panic answers 500 instead of killing the process.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Server.webhookHandler: recovered from panic", "panic", rec)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()
	s.webhook(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// sendRequest is the admin send payload.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// sendHandler delivers an ad hoc outbound message.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyBody.Error()))
		return
	}

	to, err := s.msgs.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(fmt.Sprintf("Invalid recipient: %v", err)))
		return
	}
	if err := s.msgs.SendMessage(r.Context(), to, req.Body); err != nil {
		slog.Error("Server.sendHandler: send failed", "error", err, "to", to)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent", nil))
}

// remindersHandler reports the pending reminder for an identity, if any.
func (s *Server) remindersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing 'to' query parameter"))
		return
	}
	canonical, err := s.msgs.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(fmt.Sprintf("Invalid recipient: %v", err)))
		return
	}
	reminder, err := s.store.LatestUnrespondedReminder(canonical)
	if err != nil {
		slog.Error("Server.remindersHandler: lookup failed", "error", err, "to", canonical)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to query reminders"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reminder))
}

// usersHandler lists registered users.
func (s *Server) usersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	users, err := s.store.ListUsers()
	if err != nil {
		slog.Error("Server.usersHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list users"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(users))
}
