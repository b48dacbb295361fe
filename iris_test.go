package iris

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chriskillpack/iris/agent"
	"github.com/chriskillpack/iris/internal/config"
)

func llamaServer(t *testing.T, healthy bool, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		case "/completion":
			json.NewEncoder(w).Encode(map[string]any{"content": reply, "stop": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitSelectsBackend(t *testing.T) {
	cases := []struct {
		name    string
		opts    InitOptions
		backend string
		err     string
	}{
		{"none", InitOptions{}, "", "no backend selected"},
		{"unknown", InitOptions{Provider: "vertex"}, "", "unknown backend"},
		{"anthropic without key", InitOptions{Provider: "anthropic"}, "", "ANTHROPIC_API_KEY"},
		{"openai without key", InitOptions{Provider: "openai"}, "", "OPENAI_API_KEY"},
		{"anthropic", InitOptions{Provider: "anthropic", APIKey: "k"}, "anthropic", ""},
		{"openai compatible", InitOptions{Provider: "openai", BaseURL: "http://localhost:11434/v1"}, "openai", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ir, err := Init(t.Context(), tc.opts)
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Errorf("Expected error containing %q, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error %s", err)
			}
			defer ir.Close()
			if ir.Backend.Name() != tc.backend {
				t.Errorf("Expected %s backend, got %s", tc.backend, ir.Backend.Name())
			}
			if ir.Store != nil {
				t.Error("Expected no store without a path")
			}
		})
	}
}

func TestInitUnhealthyLlama(t *testing.T) {
	srv := llamaServer(t, false, "")
	_, err := Init(t.Context(), InitOptions{Provider: "llama", LlamaServer: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "not healthy") {
		t.Errorf("Expected health error, got %v", err)
	}
}

func TestAskThroughLlama(t *testing.T) {
	srv := llamaServer(t, true, " Hello there.")
	var events int
	ir, err := Init(t.Context(), InitOptions{
		Provider:    "llama",
		LlamaServer: srv.URL,
		StoreKind:   "sqlite",
		StorePath:   filepath.Join(t.TempDir(), "people.db"),
		Observer:    func(agent.Event) { events++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ir.Close()

	out := ir.Agent.Run(t.Context(), agent.Input{Text: "Say hello"})
	if out.State != agent.Done || out.Text != "Hello there." {
		t.Errorf("Unexpected outcome %+v", out)
	}
	if out.Turns != 1 || events == 0 {
		t.Errorf("Expected one turn with events, got %d turns and %d events", out.Turns, events)
	}
	if ir.Store == nil {
		t.Error("Expected a store")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Provider:  "openai",
		OpenAI:    config.HostedConfig{APIKey: "sk", BaseURL: "http://gw"},
		Anthropic: config.HostedConfig{APIKey: "ant", BaseURL: "http://other"},
		Agent:     config.AgentConfig{MaxTurns: 3, MaxTokens: 100},
		Store:     config.StoreConfig{Kind: "json", Path: "p.json"},
		Media:     config.MediaConfig{MaxSize: 1024, MaxDimension: 640},
	}
	hio := OptionsFromConfig(cfg)
	if hio.APIKey != "sk" || hio.BaseURL != "http://gw" {
		t.Errorf("Expected openai credentials, got %q %q", hio.APIKey, hio.BaseURL)
	}
	if hio.MaxTurns != 3 || hio.StorePath != "p.json" || hio.Loader.MaxDimension != 640 {
		t.Errorf("Unexpected options %+v", hio)
	}
	if hio.HttpClient != nil {
		t.Error("Expected default client without a timeout")
	}
}
