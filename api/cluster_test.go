package api

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/gridclaim/pkg/gossip"
	"github.com/heitortanoue/gridclaim/pkg/grid"
	"github.com/heitortanoue/gridclaim/pkg/network"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
	"github.com/heitortanoue/gridclaim/pkg/render"
	"github.com/heitortanoue/gridclaim/pkg/state"
	"github.com/heitortanoue/gridclaim/pkg/syncengine"
)

// staticPeers é uma lista de vizinhos controlada pelo teste
type staticPeers struct {
	mu   sync.RWMutex
	urls []string
}

func (p *staticPeers) Set(urls ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = urls
}

func (p *staticPeers) GetNeighborURLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.urls))
	copy(out, p.urls)
	return out
}

func (p *staticPeers) Count() int { return len(p.GetNeighborURLs()) }

type testReplica struct {
	id       string
	claims   *state.ClaimSet
	log      *gossip.Log
	engine   *syncengine.Engine
	peers    *staticPeers
	recorder *render.Recorder
	url      string
}

func newTestReplica(t *testing.T, id string) *testReplica {
	t.Helper()

	peers := &staticPeers{}
	claims := state.NewClaimSet(id)
	glog := gossip.NewLog(id, 3, 4, 0, peers, gossip.NewHTTPSender(id, 2*time.Second))
	recorder := render.NewRecorder()
	engine := syncengine.NewEngine(id, grid.NewIndexer(0.0002), claims, glog, recorder, nil)

	handlers := NewHandlers(id, glog, glog, claims, nil, nil)
	server := network.NewHTTPServer(id, 0)
	handlers.Register(server)
	ts := httptest.NewServer(server.Handler())

	glog.Start()
	engine.Start()
	t.Cleanup(func() {
		engine.Stop()
		glog.Stop()
		ts.Close()
	})

	return &testReplica{
		id:       id,
		claims:   claims,
		log:      glog,
		engine:   engine,
		peers:    peers,
		recorder: recorder,
		url:      ts.URL,
	}
}

func meshOf(replicas ...*testReplica) {
	for _, r := range replicas {
		var urls []string
		for _, other := range replicas {
			if other != r {
				urls = append(urls, other.url)
			}
		}
		r.peers.Set(urls...)
	}
}

func TestCluster_ClaimPropagatesOverHTTP(t *testing.T) {
	// 1. Três réplicas totalmente conectadas
	a := newTestReplica(t, "replica-a")
	b := newTestReplica(t, "replica-b")
	c := newTestReplica(t, "replica-c")
	meshOf(a, b, c)

	ctx := context.Background()

	// 2. A reivindica a célula {426536, 138521}
	res := a.engine.TryClaimLocal(ctx, 85.30721, 27.70421, syncengine.FixedColor("#00f2ff"))
	require.True(t, res.Inserted)
	require.NoError(t, res.Err)

	// 3. B e C convergem para o mesmo conjunto
	for _, r := range []*testReplica{b, c} {
		r := r
		require.Eventually(t, func() bool { return r.engine.Count() == 1 }, 3*time.Second, 10*time.Millisecond, r.id)
		claim, ok := r.claims.Get(grid.CellID{X: 426536, Y: 138521})
		require.True(t, ok)
		assert.Equal(t, "replica-a", claim.Origin)
		assert.Equal(t, "#00f2ff", claim.Color)
	}

	// 4. C passa pela mesma célula: nada muda em lugar nenhum
	res = c.engine.TryClaimLocal(ctx, 85.30730, 27.70429, syncengine.FixedColor("#ff0055"))
	assert.False(t, res.Inserted)
	assert.Equal(t, "#00f2ff", res.Claim.Color)

	// 5. B reivindica outra célula e todas chegam a 2
	res = b.engine.TryClaimLocal(ctx, 85.3080, 27.7050, syncengine.FixedColor("#00ff9d"))
	require.True(t, res.Inserted)

	for _, r := range []*testReplica{a, b, c} {
		r := r
		require.Eventually(t, func() bool { return r.engine.Count() == 2 }, 3*time.Second, 10*time.Millisecond, r.id)
		assert.Equal(t, 2, r.recorder.LastCount(), r.id)
	}
}

func TestCluster_LateReplicaCatchesUpWithAntiEntropy(t *testing.T) {
	// 1. A trabalha sozinha e reivindica três células
	a := newTestReplica(t, "replica-a")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res := a.engine.TryClaimLocal(ctx, 85.3072+float64(i)*0.0004, 27.7042, syncengine.FixedColor("#7a00ff"))
		require.True(t, res.Inserted)
		require.NoError(t, res.Err, "sem vizinhos não é falha de publicação")
	}

	// 2. D entra depois e só conhece A
	d := newTestReplica(t, "replica-d")
	d.peers.Set(a.url)

	applied, err := d.log.AntiEntropy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	require.Eventually(t, func() bool { return d.engine.Count() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, a.log.Clock(), d.log.Clock())

	// 3. Uma segunda rodada não traz nada novo
	applied, err = d.log.AntiEntropy(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestCluster_PublishFailureKeepsClaimUntilAntiEntropy(t *testing.T) {
	// 1. A aponta para um vizinho inalcançável
	a := newTestReplica(t, "replica-a")
	a.peers.Set("http://127.0.0.1:1")

	res := a.engine.TryClaimLocal(context.Background(), 85.30721, 27.70421, syncengine.FixedColor("#ffee00"))
	require.True(t, res.Inserted)
	assert.ErrorIs(t, res.Err, syncengine.ErrPublishFailed)
	assert.Equal(t, 1, a.engine.Count(), "o claim local permanece")

	// 2. B aparece e puxa o evento que o push perdeu
	b := newTestReplica(t, "replica-b")
	b.peers.Set(a.url)

	applied, err := b.log.AntiEntropy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.Eventually(t, func() bool { return b.engine.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestCluster_UDPHelloDiscovery(t *testing.T) {
	// 1. Duas réplicas com canal de controle UDP em loopback
	tableA := network.NewNeighborTable(5 * time.Second)
	tableB := network.NewNeighborTable(5 * time.Second)
	defer tableA.Stop()
	defer tableB.Stop()

	udpA := network.NewUDPServer("replica-a", 0)
	udpB := network.NewUDPServer("replica-b", 0)
	controlA := protocol.NewControlSystem("replica-a", 8081, udpA, tableA)
	controlB := protocol.NewControlSystem("replica-b", 8082, udpB, tableB)
	udpA.SetMessageProcessor(controlA)
	udpB.SetMessageProcessor(controlB)

	require.NoError(t, udpA.Start())
	require.NoError(t, udpB.Start())
	defer udpA.Stop()
	defer udpB.Stop()

	// 2. Cada uma usa a outra como seed
	require.NoError(t, udpA.AddSeed(net.JoinHostPort("127.0.0.1", strconv.Itoa(udpB.Port()))))
	require.NoError(t, udpB.AddSeed(net.JoinHostPort("127.0.0.1", strconv.Itoa(udpA.Port()))))

	// 3. Um HELLO de cada lado basta para a descoberta
	controlA.SendHello()
	controlB.SendHello()

	require.Eventually(t, func() bool { return tableA.Count() == 1 && tableB.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"http://127.0.0.1:8082"}, tableA.GetNeighborURLs())
	assert.Equal(t, []string{"http://127.0.0.1:8081"}, tableB.GetNeighborURLs())
}
