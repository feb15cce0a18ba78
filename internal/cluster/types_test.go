package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestParticipantInfo tests the ParticipantInfo JSON shape
func TestParticipantInfo(t *testing.T) {
	info := ParticipantInfo{
		PID:     7,
		Addr:    "10.0.0.5",
		Port:    9001,
		State:   StateDisconnected,
		Pending: 3,
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Failed to marshal ParticipantInfo: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if jsonMap["pid"] != float64(7) {
		t.Errorf("Expected pid 7, got %v", jsonMap["pid"])
	}
	if jsonMap["state"] != "disconnected" {
		t.Errorf("Expected state 'disconnected', got %v", jsonMap["state"])
	}
	if jsonMap["pending"] != float64(3) {
		t.Errorf("Expected pending 3, got %v", jsonMap["pending"])
	}
}

func TestDeliveryAddr(t *testing.T) {
	tests := []struct {
		name string
		info ParticipantInfo
		want string
	}{
		{"ipv4", ParticipantInfo{Addr: "127.0.0.1", Port: 9001}, "127.0.0.1:9001"},
		{"ipv6", ParticipantInfo{Addr: "::1", Port: 9002}, "[::1]:9002"},
		{"hostname", ParticipantInfo{Addr: "alice", Port: 80}, "alice:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.DeliveryAddr(); got != tt.want {
				t.Errorf("DeliveryAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestGetJSONParticipantsResponse decodes the admin listing and checks the
// failure paths ListParticipants relies on.
func TestGetJSONParticipantsResponse(t *testing.T) {
	listing := `{"participants":[{"pid":3,"addr":"10.0.0.3","port":9003,"state":"connected","pending":0}]}`

	tests := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		wantErr string
	}{
		{name: "listing", status: http.StatusOK, body: listing},
		{name: "empty listing", status: http.StatusOK, body: `{"participants":[]}`},
		{name: "bad state filter", status: http.StatusBadRequest, body: "unknown state", wantErr: "400"},
		{name: "truncated body", status: http.StatusOK, body: `{"participants":[{"pid":3`, wantErr: "unexpected EOF"},
		{name: "slow coordinator", status: http.StatusOK, body: listing, delay: time.Second, wantErr: "deadline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Expected GET, got %s", r.Method)
				}
				time.Sleep(tt.delay)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()

			var resp ParticipantsResponse
			err := GetJSON(ctx, server.URL, &resp)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.name == "listing" {
				want := ParticipantInfo{PID: 3, Addr: "10.0.0.3", Port: 9003, State: StateConnected}
				if len(resp.Participants) != 1 || resp.Participants[0] != want {
					t.Errorf("Expected %+v, got %+v", want, resp.Participants)
				}
			} else if resp.Participants == nil || len(resp.Participants) != 0 {
				t.Errorf("Expected an empty, non-nil list, got %#v", resp.Participants)
			}
		})
	}
}

func TestListParticipants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/participants" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(ParticipantsResponse{Participants: []ParticipantInfo{
			{PID: 1, Addr: "127.0.0.1", Port: 9001, State: StateConnected},
			{PID: 2, Addr: "127.0.0.1", Port: 9002, State: StateDisconnected, Pending: 1},
		}})
	}))
	defer server.Close()

	// Both a full URL and a bare host:port are accepted.
	for _, addr := range []string{server.URL, strings.TrimPrefix(server.URL, "http://") + "/"} {
		participants, err := ListParticipants(context.Background(), addr)
		if err != nil {
			t.Fatalf("ListParticipants(%q) failed: %v", addr, err)
		}
		if len(participants) != 2 {
			t.Fatalf("Expected 2 participants, got %d", len(participants))
		}
		if participants[1].State != StateDisconnected || participants[1].Pending != 1 {
			t.Errorf("Unexpected second participant: %+v", participants[1])
		}
	}
}
