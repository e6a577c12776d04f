package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid config")

// Discovery modes
const (
	DiscoveryUDP  = "udp"
	DiscoverySWIM = "swim"
)

// Position sources
const (
	SourceSimulated = "simulated"
	SourceWebSocket = "websocket"
)

// ReplicaConfig configuração centralizada da réplica
type ReplicaConfig struct {
	// Identificação
	ReplicaID string `yaml:"replica_id" json:"replica_id"`

	// Rede
	UDPPort   int      `yaml:"udp_port" json:"udp_port"`   // porta 7000 para HELLO
	HTTPPort  int      `yaml:"http_port" json:"http_port"` // porta 8080 para eventos
	BindAddr  string   `yaml:"bind_addr" json:"bind_addr"`
	Discovery string   `yaml:"discovery" json:"discovery"` // udp | swim
	Seeds     []string `yaml:"seeds" json:"seeds"`         // host:porta (UDP ou SWIM conforme discovery)
	SwimPort  int      `yaml:"swim_port" json:"swim_port"`

	// Gossip
	Fanout int `yaml:"fanout" json:"fanout"` // número de vizinhos por envio
	TTL    int `yaml:"ttl" json:"ttl"`       // TTL inicial das mensagens

	AntiEntropyInterval time.Duration `yaml:"anti_entropy_interval" json:"anti_entropy_interval"`
	NeighborTimeout     time.Duration `yaml:"neighbor_timeout" json:"neighbor_timeout"`
	SendTimeout         time.Duration `yaml:"send_timeout" json:"send_timeout"`
	PublishTimeout      time.Duration `yaml:"publish_timeout" json:"publish_timeout"`

	// Grade e cores
	GridSize float64  `yaml:"grid_size" json:"grid_size"`
	Palette  []string `yaml:"palette" json:"palette"`

	// Posição
	PositionSource string        `yaml:"position_source" json:"position_source"` // simulated | websocket
	StartLng       float64       `yaml:"start_lng" json:"start_lng"`
	StartLat       float64       `yaml:"start_lat" json:"start_lat"`
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`
	ErrorRate      float64       `yaml:"error_rate" json:"error_rate"`

	// Journal local; vazio desativa
	JournalPath string `yaml:"journal_path" json:"journal_path"`
}

// DefaultConfig retorna configuração padrão
func DefaultConfig() *ReplicaConfig {
	return &ReplicaConfig{
		ReplicaID:           "replica-1",
		UDPPort:             7000,
		HTTPPort:            8080,
		BindAddr:            "0.0.0.0",
		Discovery:           DiscoveryUDP,
		SwimPort:            7946,
		Fanout:              3,
		TTL:                 4,
		AntiEntropyInterval: 30 * time.Second,
		NeighborTimeout:     9 * time.Second,
		SendTimeout:         5 * time.Second,
		PublishTimeout:      5 * time.Second,
		GridSize:            0.0002,
		Palette:             []string{"#00f2ff", "#00ff9d", "#ff0055", "#ffee00", "#7a00ff"},
		PositionSource:      SourceSimulated,
		StartLng:            85.3072,
		StartLat:            27.7042,
		SampleInterval:      2 * time.Second,
		ErrorRate:           0.05,
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*ReplicaConfig, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports the first problem found
func (c *ReplicaConfig) Validate() error {
	switch {
	case c.ReplicaID == "":
		return fmt.Errorf("%w: replica_id is empty", ErrInvalidConfig)
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("%w: http_port %d out of range", ErrInvalidConfig, c.HTTPPort)
	case c.UDPPort < 0 || c.UDPPort > 65535:
		return fmt.Errorf("%w: udp_port %d out of range", ErrInvalidConfig, c.UDPPort)
	case c.SwimPort < 0 || c.SwimPort > 65535:
		return fmt.Errorf("%w: swim_port %d out of range", ErrInvalidConfig, c.SwimPort)
	case c.Discovery != DiscoveryUDP && c.Discovery != DiscoverySWIM:
		return fmt.Errorf("%w: unknown discovery %q", ErrInvalidConfig, c.Discovery)
	case c.Fanout < 1:
		return fmt.Errorf("%w: fanout must be at least 1", ErrInvalidConfig)
	case c.TTL < 1:
		return fmt.Errorf("%w: ttl must be at least 1", ErrInvalidConfig)
	case c.AntiEntropyInterval < 0:
		return fmt.Errorf("%w: anti_entropy_interval is negative", ErrInvalidConfig)
	case c.NeighborTimeout <= 0:
		return fmt.Errorf("%w: neighbor_timeout must be positive", ErrInvalidConfig)
	case c.SendTimeout <= 0 || c.PublishTimeout <= 0:
		return fmt.Errorf("%w: send_timeout and publish_timeout must be positive", ErrInvalidConfig)
	case !(c.GridSize > 0) || math.IsInf(c.GridSize, 0):
		return fmt.Errorf("%w: grid_size must be a positive finite number", ErrInvalidConfig)
	case len(c.Palette) == 0:
		return fmt.Errorf("%w: palette is empty", ErrInvalidConfig)
	case c.PositionSource != SourceSimulated && c.PositionSource != SourceWebSocket:
		return fmt.Errorf("%w: unknown position_source %q", ErrInvalidConfig, c.PositionSource)
	case c.StartLng < -180 || c.StartLng > 180 || c.StartLat < -90 || c.StartLat > 90:
		return fmt.Errorf("%w: start position (%v, %v) out of range", ErrInvalidConfig, c.StartLng, c.StartLat)
	case c.PositionSource == SourceSimulated && c.SampleInterval <= 0:
		return fmt.Errorf("%w: sample_interval must be positive", ErrInvalidConfig)
	case c.ErrorRate < 0 || c.ErrorRate > 1:
		return fmt.Errorf("%w: error_rate must be within [0, 1]", ErrInvalidConfig)
	}

	for i, color := range c.Palette {
		if color == "" {
			return fmt.Errorf("%w: palette entry %d is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}
