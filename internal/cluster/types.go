package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// State is a participant's connectivity as seen by the coordinator.
type State string

const (
	StateUnregistered State = "unregistered"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

type ParticipantInfo struct {
	Addr    string `json:"addr"`
	State   State  `json:"state"`
	Port    int    `json:"port"`
	Pending int    `json:"pending"`
	PID     uint16 `json:"pid"`
}

// DeliveryAddr is the host:port the coordinator dials to deliver broadcasts.
func (p ParticipantInfo) DeliveryAddr() string {
	return net.JoinHostPort(p.Addr, strconv.Itoa(p.Port))
}

type ParticipantsResponse struct {
	Participants []ParticipantInfo `json:"participants"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListParticipants fetches the coordinator's participant view from its admin
// address. A bare host:port is treated as http.
func ListParticipants(ctx context.Context, adminAddr string) ([]ParticipantInfo, error) {
	base := adminAddr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	var resp ParticipantsResponse
	if err := GetJSON(ctx, strings.TrimRight(base, "/")+"/participants", &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}
