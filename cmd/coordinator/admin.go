package main

import (
	"encoding/json"
	"net/http"

	"golang.org/x/exp/slices"

	"github.com/dreamware/relay/internal/cluster"
	"github.com/dreamware/relay/internal/telemetry"
)

// participantSource is the read-only view the admin API serves.
type participantSource interface {
	Participants() []cluster.ParticipantInfo
}

func newAdminMux(src participantSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", telemetry.Instrument("health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	mux.Handle("/participants", telemetry.Instrument("participants", handleParticipants(src)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

// handleParticipants serves GET /participants, optionally filtered with
// ?state=connected|disconnected.
func handleParticipants(src participantSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		participants := src.Participants()
		if state := r.URL.Query().Get("state"); state != "" {
			if state != string(cluster.StateConnected) && state != string(cluster.StateDisconnected) {
				http.Error(w, "state must be connected or disconnected", http.StatusBadRequest)
				return
			}
			participants = slices.DeleteFunc(participants, func(p cluster.ParticipantInfo) bool {
				return string(p.State) != state
			})
		}
		if participants == nil {
			participants = []cluster.ParticipantInfo{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cluster.ParticipantsResponse{Participants: participants})
	})
}
