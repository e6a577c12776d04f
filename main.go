package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sanity-io/litter"

	"github.com/heitortanoue/gridclaim/api"
	"github.com/heitortanoue/gridclaim/internal/config"
	"github.com/heitortanoue/gridclaim/logging"
	"github.com/heitortanoue/gridclaim/pkg/gossip"
	"github.com/heitortanoue/gridclaim/pkg/grid"
	"github.com/heitortanoue/gridclaim/pkg/motion"
	"github.com/heitortanoue/gridclaim/pkg/network"
	"github.com/heitortanoue/gridclaim/pkg/position"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
	"github.com/heitortanoue/gridclaim/pkg/render"
	"github.com/heitortanoue/gridclaim/pkg/state"
	"github.com/heitortanoue/gridclaim/pkg/store"
	"github.com/heitortanoue/gridclaim/pkg/swim"
	"github.com/heitortanoue/gridclaim/pkg/syncengine"
)

const snapshotInterval = 30 * time.Second

func main() {
	// Command line flags
	var (
		configPath     = flag.String("config", "", "YAML config file (flags override its values)")
		replicaID      = flag.String("id", "replica-1", "Unique ID of this replica")
		httpPort       = flag.Int("http-port", 8080, "HTTP port for events and API")
		udpPort        = flag.Int("udp-port", 7000, "UDP port for HELLO control messages")
		swimPort       = flag.Int("swim-port", 7946, "memberlist port when -discovery=swim")
		bindAddr       = flag.String("bind", "0.0.0.0", "Bind address")
		discovery      = flag.String("discovery", "udp", "Peer discovery: udp | swim")
		seeds          = flag.String("seeds", "", "Comma-separated host:port seeds (UDP or SWIM)")
		fanout         = flag.Int("fanout", 3, "Number of neighbors per gossip push")
		ttl            = flag.Int("ttl", 4, "Initial TTL for gossip messages")
		antiEntropySec = flag.Int("anti-entropy-sec", 30, "Anti-entropy interval in seconds (0 disables)")
		gridSize       = flag.Float64("grid-size", 0.0002, "Cell edge in degrees")
		source         = flag.String("source", "simulated", "Position source: simulated | websocket")
		sampleMs       = flag.Int("sample-ms", 2000, "Simulated position interval in milliseconds")
		errorRate      = flag.Float64("error-rate", 0.05, "Simulated position error probability")
		journalPath    = flag.String("journal", "", "SQLite journal path (empty disables)")
		dumpConfig     = flag.Bool("dump-config", false, "Print the resolved config and exit")
		showUsage      = flag.Bool("help", false, "Show usage help")
	)
	flag.Parse()

	if *showUsage {
		printUsage()
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
	}

	// Only flags given explicitly override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.ReplicaID = *replicaID
		case "http-port":
			cfg.HTTPPort = *httpPort
		case "udp-port":
			cfg.UDPPort = *udpPort
		case "swim-port":
			cfg.SwimPort = *swimPort
		case "bind":
			cfg.BindAddr = *bindAddr
		case "discovery":
			cfg.Discovery = *discovery
		case "seeds":
			cfg.Seeds = splitSeeds(*seeds)
		case "fanout":
			cfg.Fanout = *fanout
		case "ttl":
			cfg.TTL = *ttl
		case "anti-entropy-sec":
			cfg.AntiEntropyInterval = time.Duration(*antiEntropySec) * time.Second
		case "grid-size":
			cfg.GridSize = *gridSize
		case "source":
			cfg.PositionSource = *source
		case "sample-ms":
			cfg.SampleInterval = time.Duration(*sampleMs) * time.Millisecond
		case "error-rate":
			cfg.ErrorRate = *errorRate
		case "journal":
			cfg.JournalPath = *journalPath
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if *dumpConfig {
		fmt.Println(litter.Sdump(cfg))
		return
	}

	logger := logging.NewClaimLogger(cfg.ReplicaID)

	// Core state
	indexer := grid.NewIndexer(cfg.GridSize)
	claims := state.NewClaimSet(cfg.ReplicaID)

	// Render sink and websocket position input
	clientFeed := position.NewFeed()
	hub := render.NewHub(clientFeed)

	// Peer discovery
	var (
		neighbors     gossip.NeighborGetter
		neighborStats api.StatsProvider
		neighborTable *network.NeighborTable
		udpServer     *network.UDPServer
		controlSystem *protocol.ControlSystem
		membership    *swim.MembershipManager
	)

	switch cfg.Discovery {
	case config.DiscoverySWIM:
		m, err := swim.NewMembershipManager(swim.MembershipConfig{
			NodeID:   cfg.ReplicaID,
			BindAddr: cfg.BindAddr,
			BindPort: cfg.SwimPort,
			APIPort:  cfg.HTTPPort,
			Seeds:    cfg.Seeds,
		})
		if err != nil {
			log.Fatalf("Error starting membership: %v", err)
		}
		m.SetHooks(
			func(id, url string) { logger.LogPeerJoin(id) },
			func(id, url string) { logger.LogPeerLeave(id) },
		)
		membership = m
		neighbors, neighborStats = m, m

	default:
		neighborTable = network.NewNeighborTable(cfg.NeighborTimeout)
		neighborTable.SetHooks(
			func(n network.Neighbor) { logger.LogPeerJoin(n.ID) },
			func(n network.Neighbor) { logger.LogPeerLeave(n.ID) },
		)
		udpServer = network.NewUDPServer(cfg.ReplicaID, cfg.UDPPort)
		for _, seed := range cfg.Seeds {
			if err := udpServer.AddSeed(seed); err != nil {
				log.Fatalf("Error: %v", err)
			}
		}
		controlSystem = protocol.NewControlSystem(cfg.ReplicaID, cfg.HTTPPort, udpServer, neighborTable)
		udpServer.SetMessageProcessor(controlSystem)
		neighbors, neighborStats = neighborTable, neighborTable
	}

	// Shared log over gossip, with optional journal
	sender := gossip.NewHTTPSender(cfg.ReplicaID, cfg.SendTimeout)
	gossipLog := gossip.NewLog(cfg.ReplicaID, cfg.Fanout, cfg.TTL, cfg.AntiEntropyInterval, neighbors, sender)

	var journal *store.Journal
	if cfg.JournalPath != "" {
		j, err := store.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("Error opening journal: %v", err)
		}
		journal = j
		gossipLog.SetJournal(j)

		restored, err := gossipLog.Restore()
		if err != nil {
			log.Fatalf("Error restoring journal: %v", err)
		}
		log.Printf("[STORE] Restored %d events from %s", restored, cfg.JournalPath)
	}

	// Engine and tracker
	engine := syncengine.NewEngine(cfg.ReplicaID, indexer, claims, gossipLog, hub, logger)
	palette := syncengine.NewPalette(0, cfg.Palette...)

	var (
		src       position.Source = clientFeed
		simulated *position.SimulatedSource
	)
	if cfg.PositionSource == config.SourceSimulated {
		simulated = position.NewSimulatedSource(cfg.ReplicaID, cfg.StartLng, cfg.StartLat, cfg.SampleInterval, time.Now().UnixNano())
		simulated.SetStep(cfg.GridSize)
		simulated.SetErrorRate(cfg.ErrorRate)
		src = simulated
	}

	tracker := motion.NewTracker(cfg.ReplicaID, src, engine, palette, hub, logger)
	tracker.SetPublishTimeout(cfg.PublishTimeout)

	// HTTP surface
	httpServer := network.NewHTTPServer(cfg.ReplicaID, cfg.HTTPPort)
	handlers := api.NewHandlers(cfg.ReplicaID, gossipLog, gossipLog, claims, tracker, logger)
	handlers.AddStats("engine", engine)
	handlers.AddStats("claims", claims)
	handlers.AddStats("gossip", gossipLog)
	handlers.AddStats("tracker", tracker)
	handlers.AddStats("hub", hub)
	handlers.AddStats("neighbors", neighborStats)
	handlers.AddStats("http", httpServer)
	if controlSystem != nil {
		handlers.AddStats("control", controlSystem)
		handlers.AddStats("udp", udpServer)
	}
	if journal != nil {
		handlers.AddStats("journal", journal)
	}
	if simulated != nil {
		handlers.AddStats("position", simulated)
	} else {
		handlers.AddStats("position", clientFeed)
	}
	handlers.Register(httpServer)
	httpServer.WSHandler = hub

	// Startup info
	fmt.Printf("=== Replica %s ===\n", cfg.ReplicaID)
	fmt.Printf("HTTP: http://%s:%d (ws: /ws)\n", cfg.BindAddr, cfg.HTTPPort)
	if membership != nil {
		fmt.Printf("Discovery: swim at %s\n", membership.GetLocalAddr())
	} else {
		fmt.Printf("Discovery: udp HELLO on %s:%d, seeds %v\n", cfg.BindAddr, cfg.UDPPort, cfg.Seeds)
	}
	fmt.Printf("Grid: %.6f deg cells, palette %v\n", cfg.GridSize, cfg.Palette)
	fmt.Printf("Gossip: fanout=%d, ttl=%d, anti-entropy=%v\n", cfg.Fanout, cfg.TTL, cfg.AntiEntropyInterval)
	fmt.Printf("Position: %s\n", cfg.PositionSource)
	fmt.Printf("Starting...\n\n")

	// Start components
	gossipLog.Start()
	engine.Start()
	// empty layer + zero count for the first clients when nothing was restored
	engine.Resync()
	tracker.Start()
	if simulated != nil {
		simulated.Start()
	}
	if udpServer != nil {
		if err := udpServer.Start(); err != nil {
			log.Fatalf("Error starting UDP server: %v", err)
		}
		controlSystem.Start()
	}

	snapshotStop := make(chan struct{})
	go snapshotLoop(cfg.ReplicaID, claims, logger, snapshotStop)

	httpErr := make(chan error, 1)
	go func() { httpErr <- httpServer.Start() }()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutdown signal received, stopping...")
	case err := <-httpErr:
		if err != nil {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}

	close(snapshotStop)

	fmt.Println("Stopping position input...")
	if simulated != nil {
		simulated.Stop()
	}
	tracker.Stop()
	clientFeed.Close()

	if controlSystem != nil {
		fmt.Println("Stopping control system...")
		controlSystem.Stop()
		if err := udpServer.Stop(); err != nil {
			fmt.Printf("Error stopping UDP: %v\n", err)
		}
		neighborTable.Stop()
	}
	if membership != nil {
		fmt.Println("Leaving cluster...")
		if err := membership.Leave(); err != nil {
			fmt.Printf("Error leaving cluster: %v\n", err)
		}
		membership.Shutdown()
	}

	fmt.Println("Stopping HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := httpServer.Stop(ctx); err != nil {
		fmt.Printf("Error stopping HTTP: %v\n", err)
	}
	cancel()

	fmt.Println("Stopping sync engine...")
	engine.Stop()
	gossipLog.Stop()

	if journal != nil {
		if err := journal.Close(); err != nil {
			fmt.Printf("Error closing journal: %v\n", err)
		}
	}

	logger.LogStateSnapshot(claims.Size(), countLocal(cfg.ReplicaID, claims))
}

// snapshotLoop logs the claim count periodically
func snapshotLoop(replicaID string, claims *state.ClaimSet, logger *logging.ClaimLogger, stop <-chan struct{}) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.LogStateSnapshot(claims.Size(), countLocal(replicaID, claims))
		case <-stop:
			return
		}
	}
}

func countLocal(replicaID string, claims *state.ClaimSet) int {
	n := 0
	for _, c := range claims.Snapshot() {
		if c.Origin == replicaID {
			n++
		}
	}
	return n
}

func splitSeeds(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// printUsage shows available options and endpoints
func printUsage() {
	fmt.Fprintf(os.Stderr, `
=== Grid Claim Replica ===

USAGE:
  %s [options]

EXAMPLES:
  %s -id=replica-1 -udp-port=7000 -http-port=8080 -seeds=127.0.0.1:7001
  %s -id=replica-2 -udp-port=7001 -http-port=8081 -seeds=127.0.0.1:7000
  %s -id=replica-3 -discovery=swim -swim-port=7947 -seeds=127.0.0.1:7946
  %s -config=replica.yaml -source=websocket -journal=data/replica.db

OPTIONS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])

	flag.PrintDefaults()

	fmt.Fprintf(os.Stderr, `
ENDPOINTS (HTTP):
  GET  /health        - Liveness
  POST /event         - Gossip ingress from other replicas
  POST /events/pull   - Anti-entropy pull (zstd JSON response)
  GET  /claims        - Claimed cells as GeoJSON
  GET  /stats         - Component statistics
  POST /position      - Manual position override {lng, lat}
  GET  /ws            - WebSocket render stream and position input
  GET  /debug/claims  - Readable dump of the claim set
`)
}
