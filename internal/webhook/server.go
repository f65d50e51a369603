// Package webhook provides the inbound HTTP surface: the provider push
// endpoint (with validation handshake), the operator bootstrap endpoint,
// and a health probe.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/driveshadow/driveshadow/internal/bootstrap"
	"github.com/driveshadow/driveshadow/internal/gate"
	"github.com/driveshadow/driveshadow/internal/queue"
	"github.com/driveshadow/driveshadow/internal/subscription"
	"github.com/driveshadow/driveshadow/internal/telemetry"
)

// Authenticator is the slice of the subscription manager the sink needs.
type Authenticator interface {
	Authenticate(ctx context.Context, providerID, clientState string) error
}

// Bootstrapper runs the startup protocol behind POST /bootstrap.
type Bootstrapper interface {
	Run(ctx context.Context) (*bootstrap.Result, error)
}

// Server handles HTTP requests from the provider and the operator.
type Server struct {
	auth       Authenticator
	boot       Bootstrapper
	queue      *queue.Queue
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Auth      Authenticator
	Bootstrap Bootstrapper
	Queue     *queue.Queue
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		auth:  cfg.Auth,
		boot:  cfg.Bootstrap,
		queue: cfg.Queue,
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("/notify", s.handleNotify)
	s.mux.HandleFunc("/bootstrap", s.handleBootstrap)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // bootstrap runs a full sync inline
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// notification is one entry of a provider push payload. Only the fields the
// sink consumes are decoded.
type notification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	Resource       string `json:"resource"`
	ChangeType     string `json:"changeType"`
}

type notifyPayload struct {
	Value []notification `json:"value"`
}

// handleNotify answers the provider's validation handshake and queues a
// reconciliation job for every authenticated notification. Entries with a
// bad shared secret are dropped silently; answering differently would leak
// whether a subscription id is known.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	// Subscription validation handshake: echo the challenge as plain text.
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, token)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var payload notifyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	ctx := r.Context()
	accepted := 0
	for _, n := range payload.Value {
		if err := s.auth.Authenticate(ctx, n.SubscriptionID, n.ClientState); err != nil {
			telemetry.CountNotification(ctx, false)
			if errors.Is(err, subscription.ErrSecretMismatch) || errors.Is(err, subscription.ErrUnknownSubscription) {
				log.Printf("webhook: dropping notification for subscription %s: %v", n.SubscriptionID, err)
				continue
			}
			s.writeError(w, http.StatusInternalServerError, "subscription lookup failed")
			return
		}

		job := queue.NewJob(n.SubscriptionID, n.Resource, n.ChangeType)
		if err := s.queue.Enqueue(job); err != nil {
			// Full queue: tell the provider to retry later. The lost hint is
			// harmless, the cursor captures the outstanding work.
			telemetry.CountNotification(ctx, false)
			s.writeError(w, http.StatusServiceUnavailable, "queue full, retry later")
			return
		}
		telemetry.CountNotification(ctx, true)
		accepted++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
}

// handleBootstrap runs the startup protocol: validate credential, ensure
// subscription, initial sync, enable gate.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	res, err := s.boot.Run(r.Context())
	if err != nil {
		var verr *gate.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusUnauthorized, verr.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("webhook: write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
