package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.0002, cfg.GridSize)
	assert.Equal(t, DiscoveryUDP, cfg.Discovery)
	assert.Len(t, cfg.Palette, 5)
	assert.Empty(t, cfg.JournalPath)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
replica_id: replica-b
http_port: 8082
discovery: swim
seeds: ["127.0.0.1:7946"]
anti_entropy_interval: 10s
grid_size: 0.0005
palette: ["#111111"]
journal_path: data/b.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "replica-b", cfg.ReplicaID)
	assert.Equal(t, 8082, cfg.HTTPPort)
	assert.Equal(t, DiscoverySWIM, cfg.Discovery)
	assert.Equal(t, []string{"127.0.0.1:7946"}, cfg.Seeds)
	assert.Equal(t, 10*time.Second, cfg.AntiEntropyInterval)
	assert.Equal(t, 0.0005, cfg.GridSize)
	assert.Equal(t, []string{"#111111"}, cfg.Palette)
	assert.Equal(t, "data/b.db", cfg.JournalPath)

	// Chaves ausentes mantêm o padrão
	assert.Equal(t, 7000, cfg.UDPPort)
	assert.Equal(t, 3, cfg.Fanout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "fanout: [not, a, number]"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *ReplicaConfig){
		"empty id":         func(c *ReplicaConfig) { c.ReplicaID = "" },
		"http port":        func(c *ReplicaConfig) { c.HTTPPort = 0 },
		"udp port":         func(c *ReplicaConfig) { c.UDPPort = 70000 },
		"discovery":        func(c *ReplicaConfig) { c.Discovery = "mdns" },
		"fanout":           func(c *ReplicaConfig) { c.Fanout = 0 },
		"ttl":              func(c *ReplicaConfig) { c.TTL = 0 },
		"anti entropy":     func(c *ReplicaConfig) { c.AntiEntropyInterval = -time.Second },
		"neighbor timeout": func(c *ReplicaConfig) { c.NeighborTimeout = 0 },
		"grid size zero":   func(c *ReplicaConfig) { c.GridSize = 0 },
		"grid size neg":    func(c *ReplicaConfig) { c.GridSize = -1 },
		"empty palette":    func(c *ReplicaConfig) { c.Palette = nil },
		"blank color":      func(c *ReplicaConfig) { c.Palette = []string{"#fff", ""} },
		"source":           func(c *ReplicaConfig) { c.PositionSource = "gps" },
		"start lat":        func(c *ReplicaConfig) { c.StartLat = 91 },
		"sample interval":  func(c *ReplicaConfig) { c.SampleInterval = 0 },
		"error rate":       func(c *ReplicaConfig) { c.ErrorRate = 1.5 },
		"publish timeout":  func(c *ReplicaConfig) { c.PublishTimeout = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidate_WebSocketSourceIgnoresSampleInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PositionSource = SourceWebSocket
	cfg.SampleInterval = 0
	assert.NoError(t, cfg.Validate())
}
