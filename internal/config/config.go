// Package config loads coordinator and participant configuration files.
//
// Two formats are accepted. The legacy format is a handful of plain lines:
//
//	coordinator:  <listen_port>\n<persistence_time>
//	participant:  <pid>\n<log_file>\n<host> <port>
//
// Files ending in .yaml or .yml are decoded as YAML instead, which also
// exposes the coordinator's tuning knobs. Unset YAML fields keep their
// defaults.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMalformed wraps every load failure: missing file, short file, bad values.
var ErrMalformed = errors.New("malformed config")

const (
	DefaultMaxConnections  = 64
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultMaxBodySize     = 1 << 20
	DefaultSweepInterval   = time.Second
)

// Coordinator holds everything the coordinator process needs at startup.
type Coordinator struct {
	ListenPort      int           `yaml:"listen_port"`
	PersistenceTime int           `yaml:"persistence_time"`
	AdminAddr       string        `yaml:"admin_addr"`
	MaxConnections  int           `yaml:"max_connections"`
	AcceptRate      float64       `yaml:"accept_rate"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxBodySize     uint32        `yaml:"max_body_size"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	LogLevel        string        `yaml:"log_level"`
}

// DefaultCoordinator returns a config with every optional field at its default.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		MaxConnections:  DefaultMaxConnections,
		DeliveryTimeout: DefaultDeliveryTimeout,
		MaxBodySize:     DefaultMaxBodySize,
		SweepInterval:   DefaultSweepInterval,
		LogLevel:        "info",
	}
}

// Persistence is the replay window as a duration.
func (c Coordinator) Persistence() time.Duration {
	return time.Duration(c.PersistenceTime) * time.Second
}

func (c Coordinator) validate() error {
	if err := validPort("listen_port", c.ListenPort); err != nil {
		return err
	}
	if c.PersistenceTime < 0 {
		return fmt.Errorf("%w: persistence_time must be >= 0, got %d", ErrMalformed, c.PersistenceTime)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("%w: max_connections must be >= 1, got %d", ErrMalformed, c.MaxConnections)
	}
	if c.AcceptRate < 0 {
		return fmt.Errorf("%w: accept_rate must be >= 0", ErrMalformed)
	}
	if c.DeliveryTimeout < 0 || c.RequestTimeout < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("%w: durations must be >= 0", ErrMalformed)
	}
	return nil
}

// Participant holds a participant's identity and where to find the coordinator.
type Participant struct {
	PID             int    `yaml:"pid"`
	LogFile         string `yaml:"log_file"`
	CoordinatorHost string `yaml:"coordinator_host"`
	CoordinatorPort int    `yaml:"coordinator_port"`
	AdminAddr       string `yaml:"admin_addr"`
	LogLevel        string `yaml:"log_level"`
}

// CoordinatorAddr returns host:port suitable for dialing.
func (p Participant) CoordinatorAddr() string {
	return net.JoinHostPort(p.CoordinatorHost, strconv.Itoa(p.CoordinatorPort))
}

func (p Participant) validate() error {
	if p.PID < 1 || p.PID > 65535 {
		return fmt.Errorf("%w: pid must be in 1..65535, got %d", ErrMalformed, p.PID)
	}
	if p.LogFile == "" {
		return fmt.Errorf("%w: log_file is required", ErrMalformed)
	}
	if p.CoordinatorHost == "" {
		return fmt.Errorf("%w: coordinator_host is required", ErrMalformed)
	}
	return validPort("coordinator_port", p.CoordinatorPort)
}

// LoadCoordinator reads path and applies RELAY_ADMIN_ADDR and RELAY_LOG_LEVEL
// on top of whatever the file says.
func LoadCoordinator(path string) (Coordinator, error) {
	cfg := DefaultCoordinator()
	data, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
	} else {
		lines, err := legacyLines(data, 2)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		if cfg.ListenPort, err = atoi("listen_port", lines[0]); err != nil {
			return cfg, err
		}
		if cfg.PersistenceTime, err = atoi("persistence_time", lines[1]); err != nil {
			return cfg, err
		}
	}

	cfg.AdminAddr = getenv("RELAY_ADMIN_ADDR", cfg.AdminAddr)
	cfg.LogLevel = getenv("RELAY_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadParticipant reads a participant config from path. RELAY_ADMIN_ADDR and
// RELAY_LOG_LEVEL override the file.
func LoadParticipant(path string) (Participant, error) {
	var cfg Participant
	data, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
	} else {
		lines, err := legacyLines(data, 3)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		if cfg.PID, err = atoi("pid", lines[0]); err != nil {
			return cfg, err
		}
		cfg.LogFile = lines[1]
		hostPort := strings.Fields(lines[2])
		if len(hostPort) != 2 {
			return cfg, fmt.Errorf("%w: expected \"<host> <port>\", got %q", ErrMalformed, lines[2])
		}
		cfg.CoordinatorHost = hostPort[0]
		if cfg.CoordinatorPort, err = atoi("coordinator_port", hostPort[1]); err != nil {
			return cfg, err
		}
	}

	cfg.AdminAddr = getenv("RELAY_ADMIN_ADDR", cfg.AdminAddr)
	cfg.LogLevel = getenv("RELAY_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// legacyLines returns the first n non-blank lines, trimmed.
func legacyLines(data []byte, n int) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() && len(lines) < n {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(lines) < n {
		return nil, fmt.Errorf("%w: expected %d lines, found %d", ErrMalformed, n, len(lines))
	}
	return lines, nil
}

func atoi(field, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not an integer", ErrMalformed, field, s)
	}
	return v, nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s must be in 1..65535, got %d", ErrMalformed, field, port)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
