package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPServer_NewHTTPServer(t *testing.T) {
	server := NewHTTPServer("replica-a", 8080)

	if server == nil {
		t.Fatal("NewHTTPServer não deveria retornar nil")
	}
	if server.replicaID != "replica-a" {
		t.Errorf("ReplicaID esperado replica-a, obtido %s", server.replicaID)
	}
	if server.server.Addr != ":8080" {
		t.Errorf("Endereço do servidor esperado :8080, obtido %s", server.server.Addr)
	}
	if server.Handler() == nil {
		t.Error("Handler não deveria ser nil")
	}
}

func TestHTTPServer_HealthEndpoint(t *testing.T) {
	server := NewHTTPServer("health-test", 8080)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Erro ao fazer request para /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code esperado %d, obtido %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type esperado application/json, obtido %s", ct)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		t.Fatalf("Erro ao decodificar JSON: %v", err)
	}
	if response["replica_id"] != "health-test" {
		t.Errorf("replica_id esperado health-test, obtido %v", response["replica_id"])
	}
	if response["status"] != "healthy" {
		t.Errorf("status esperado healthy, obtido %v", response["status"])
	}
}

func TestHTTPServer_NotImplementedEndpoints(t *testing.T) {
	server := NewHTTPServer("not-impl-test", 8080)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	endpoints := []string{"/event", "/events/pull", "/claims", "/stats", "/position", "/debug/claims", "/ws"}

	for _, endpoint := range endpoints {
		t.Run(endpoint, func(t *testing.T) {
			resp, err := http.Get(ts.URL + endpoint)
			if err != nil {
				t.Fatalf("Erro ao fazer request para %s: %v", endpoint, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusNotImplemented {
				t.Errorf("Status code esperado %d, obtido %d", http.StatusNotImplemented, resp.StatusCode)
			}

			var response map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
				t.Fatalf("Erro ao decodificar JSON: %v", err)
			}
			if response["error"] != "Not implemented" {
				t.Errorf("error esperado 'Not implemented', obtido %v", response["error"])
			}
		})
	}
}

func TestHTTPServer_CustomHandlers(t *testing.T) {
	server := NewHTTPServer("custom-test", 8080)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	respond := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, body)
		}
	}

	server.EventHandler = respond("event")
	server.PullHandler = respond("pull")
	server.ClaimsHandler = respond("claims")
	server.StatsHandler = respond("stats")
	server.PositionHandler = respond("position")
	server.DebugHandler = respond("debug")
	server.WSHandler = respond("ws")

	cases := map[string]struct {
		body string
		kind string
	}{
		"/event":        {"event", "EVENT"},
		"/events/pull":  {"pull", "PULL"},
		"/claims":       {"claims", "CLAIMS"},
		"/stats":        {"stats", "STATS"},
		"/position":     {"position", "POSITION"},
		"/debug/claims": {"debug", "DEBUG"},
		"/ws":           {"ws", ""},
	}

	for path, want := range cases {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("Erro ao fazer request para %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if string(body) != want.body {
			t.Errorf("%s: body esperado %q, obtido %q", path, want.body, body)
		}
		if want.kind != "" {
			if got := resp.Header.Get("X-Message-Type"); got != want.kind {
				t.Errorf("%s: X-Message-Type esperado %s, obtido %s", path, want.kind, got)
			}
			if got := resp.Header.Get("X-Replica-ID"); got != "custom-test" {
				t.Errorf("%s: X-Replica-ID esperado custom-test, obtido %s", path, got)
			}
		}
	}
}

func TestHTTPServer_StartStop(t *testing.T) {
	server := NewHTTPServer("start-stop", 0)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Port() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if server.Port() == 0 {
		t.Fatal("Servidor não iniciou a tempo")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", server.Port()))
	if err != nil {
		t.Fatalf("Erro ao acessar servidor iniciado: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("Erro ao parar servidor: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start deveria retornar nil após Stop, obtido %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start não retornou após Stop")
	}
}

func TestHTTPServer_GetStats(t *testing.T) {
	server := NewHTTPServer("stats-test", 9090)
	stats := server.GetStats()

	if stats["http_port"] != 9090 {
		t.Errorf("http_port esperado 9090, obtido %v", stats["http_port"])
	}
	if stats["replica_id"] != "stats-test" {
		t.Errorf("replica_id esperado stats-test, obtido %v", stats["replica_id"])
	}
}

func TestHTTPServer_Stop_BeforeStart(t *testing.T) {
	server := NewHTTPServer("never-started", 0)
	if err := server.Stop(context.Background()); err != nil {
		t.Errorf("Stop antes de Start não deveria falhar: %v", err)
	}
}
