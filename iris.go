// Package iris wires a model backend, the reference store and the action
// registry into an agent. Everything is built once by Init and lives for the
// rest of the process.
package iris

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chriskillpack/iris/action"
	"github.com/chriskillpack/iris/agent"
	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/compare"
	"github.com/chriskillpack/iris/internal/anthropic"
	"github.com/chriskillpack/iris/internal/config"
	"github.com/chriskillpack/iris/internal/llama"
	"github.com/chriskillpack/iris/internal/openai"
	"github.com/chriskillpack/iris/media"
	"github.com/chriskillpack/iris/refstore"
)

type InitOptions struct {
	Provider string // anthropic, openai or llama
	Model    string // empty for the provider default

	APIKey  string
	BaseURL string

	LlamaServer string
	LlamaSeed   int

	RequestsPerMinute int

	// StoreKind is "json" or "sqlite". StorePath empty disables the
	// reference store; identify_person then reports that none is set up.
	StoreKind string
	StorePath string

	Loader media.Loader

	MaxTokens    int
	MaxTurns     int
	Parallelism  int
	SystemPrompt string

	Logger   *slog.Logger
	Observer agent.Observer

	HttpClient *http.Client // if nil uses http.DefaultClient
}

// OptionsFromConfig maps a loaded configuration onto InitOptions.
func OptionsFromConfig(cfg *config.Config) InitOptions {
	hio := InitOptions{
		Provider:          cfg.Provider,
		Model:             cfg.Model,
		APIKey:            cfg.APIKey(),
		LlamaServer:       cfg.Llama.Server,
		LlamaSeed:         cfg.Llama.Seed,
		RequestsPerMinute: cfg.RequestsPerMinute,
		StoreKind:         cfg.Store.Kind,
		StorePath:         cfg.Store.Path,
		Loader: media.Loader{
			MaxSize:      cfg.Media.MaxSize,
			MaxDimension: cfg.Media.MaxDimension,
		},
		MaxTokens:    cfg.Agent.MaxTokens,
		MaxTurns:     cfg.Agent.MaxTurns,
		Parallelism:  cfg.Agent.Parallelism,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}
	switch cfg.Provider {
	case "anthropic":
		hio.BaseURL = cfg.Anthropic.BaseURL
	case "openai":
		hio.BaseURL = cfg.OpenAI.BaseURL
	}
	if cfg.HTTPTimeout > 0 {
		hio.HttpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return hio
}

type Iris struct {
	Backend    backend.Backend
	Vision     backend.Vision
	Store      *refstore.Store // nil when no store is configured
	Comparator compare.Comparator
	Registry   *action.Registry
	Agent      *agent.Agent

	logger *slog.Logger
}

var errNoAPIKey = errors.New("API key is not set")

func Init(ctx context.Context, hio InitOptions) (*Iris, error) {
	httpClient := hio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := hio.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var b backend.Backend
	switch hio.Provider {
	case "anthropic":
		if hio.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w (ANTHROPIC_API_KEY)", errNoAPIKey)
		}
		b = anthropic.Init(anthropic.Options{
			APIKey:            hio.APIKey,
			BaseURL:           hio.BaseURL,
			Model:             hio.Model,
			RequestsPerMinute: hio.RequestsPerMinute,
		}, httpClient)
	case "openai":
		// OpenAI-compatible servers on a custom base URL often need no key.
		if hio.APIKey == "" && hio.BaseURL == "" {
			return nil, fmt.Errorf("openai: %w (OPENAI_API_KEY)", errNoAPIKey)
		}
		b = openai.Init(openai.Options{
			APIKey:            hio.APIKey,
			BaseURL:           hio.BaseURL,
			Model:             hio.Model,
			RequestsPerMinute: hio.RequestsPerMinute,
		}, httpClient)
	case "llama":
		if hio.LlamaServer == "" {
			return nil, fmt.Errorf("no llama server address")
		}
		b = llama.Init(hio.LlamaServer, hio.LlamaSeed, httpClient)
	case "":
		return nil, fmt.Errorf("no backend selected")
	default:
		return nil, fmt.Errorf("unknown backend %q", hio.Provider)
	}

	if hc, ok := b.(backend.HealthChecker); ok && !hc.IsHealthy(ctx) {
		return nil, fmt.Errorf("%s backend is not healthy", b.Name())
	}

	vision := backend.Vision{Backend: b, Model: hio.Model, Loader: hio.Loader}
	ir := &Iris{
		Backend:    b,
		Vision:     vision,
		Comparator: compare.Comparator{Vision: vision},
		logger:     logger,
	}

	if hio.StorePath != "" {
		store, err := refstore.Open(ctx, refstore.Options{
			Kind:   hio.StoreKind,
			Path:   hio.StorePath,
			Vision: vision,
			Logger: logger.With("component", "refstore"),
		})
		if err != nil {
			return nil, err
		}
		ir.Store = store
	}

	ir.Registry = action.NewBuiltinRegistry(action.Env{
		Vision:     vision,
		Store:      ir.Store,
		Comparator: ir.Comparator,
		Logger:     logger.With("component", "action"),
	})
	ir.Agent = agent.New(b, ir.Registry, agent.Options{
		Model:       hio.Model,
		MaxTokens:   hio.MaxTokens,
		MaxTurns:    hio.MaxTurns,
		Parallelism: hio.Parallelism,
		System:      hio.SystemPrompt,
		Loader:      hio.Loader,
		Logger:      logger.With("component", "agent"),
		Observer:    hio.Observer,
	})

	logger.Debug("initialised", "backend", b.Name(), "store", hio.StorePath)
	return ir, nil
}

func (ir *Iris) Close() error {
	if ir.Store == nil {
		return nil
	}
	return ir.Store.Close()
}
