// Package httpapi is the thin HTTP control surface: a minimal
// status/exit/restart/update delegate shaped after ArchiSteamFarm's
// `/Api/ASF` namespace (same CORS-header-then-method-check shape, same
// sendJSON helper) pointed at the Supervisor.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/bot"
)

// Fleet is the view of the Supervisor this package depends on, kept as an
// interface so httpapi never needs to import internal/supervisor directly.
type Fleet interface {
	All() []*bot.Bot
	RequestExit()
}

// BotStatus reports one bot's fleet-visible health.
type BotStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	Farming   []uint32 `json:"farming"`
}

// HealthResponse is the aggregate fleet-readiness report.
type HealthResponse struct {
	Status  string      `json:"status"`
	Uptime  string      `json:"uptime"`
	Bots    []BotStatus `json:"bots"`
	Total   int         `json:"total"`
	Ready   int         `json:"ready"`
}

// simpleResponse is the success/message shape reused for every mutation
// endpoint.
type simpleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Server wires the Supervisor into an http.Handler.
type Server struct {
	fleet     Fleet
	startTime time.Time
	log       *zap.Logger
}

// New builds a Server delegating to fleet.
func New(fleet Fleet, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{fleet: fleet, startTime: time.Now(), log: log}
}

// Handler returns the routed http.Handler, meant to be passed to
// http.ListenAndServe by cmd/farmd.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/Api/ASF/status", s.withCORS(s.handleStatus))
	mux.HandleFunc("/Api/ASF/exit", s.withCORS(s.handleExit))
	mux.HandleFunc("/Api/ASF/restart", s.withCORS(s.handleRestart))
	mux.HandleFunc("/Api/ASF/update", s.withCORS(s.handleUpdate))
	return mux
}

// withCORS applies permissive CORS headers and short-circuits preflight
// OPTIONS requests for every route below.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bots := s.fleet.All()
	statuses := make([]BotStatus, 0, len(bots))
	ready := 0
	for _, b := range bots {
		st := b.State()
		connected := st != bot.StateStopped && st != bot.StateConnecting
		isReady := st == bot.StateReady
		if isReady {
			ready++
		}
		statuses = append(statuses, BotStatus{
			Name:      b.Name,
			State:     st.String(),
			Connected: connected,
			Ready:     isReady,
		})
	}

	sendJSON(w, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
		Bots:   statuses,
		Total:  len(statuses),
		Ready:  ready,
	})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.fleet.RequestExit()
	sendJSON(w, simpleResponse{Success: true, Message: "exit requested"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	for _, b := range s.fleet.All() {
		go func(b *bot.Bot) {
			b.Stop()
			b.Start(context.Background())
		}(b)
	}
	sendJSON(w, simpleResponse{Success: true, Message: "restart requested"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sendJSON(w, simpleResponse{Success: false, Message: "not implemented: this daemon has no self-update mechanism"})
}

// sendJSON writes response as the JSON body with the right content type.
func sendJSON(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
