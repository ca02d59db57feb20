// Command arji is the main entry point for the Arji conversational intake
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/arji-ai/arji/internal/api"
	"github.com/arji-ai/arji/internal/config"
	"github.com/arji-ai/arji/internal/extract"
	"github.com/arji-ai/arji/internal/formfill"
	"github.com/arji-ai/arji/internal/health"
	"github.com/arji-ai/arji/internal/observe"
	"github.com/arji-ai/arji/internal/resilience"
	"github.com/arji-ai/arji/internal/schema"
	"github.com/arji-ai/arji/internal/session"
	"github.com/arji-ai/arji/pkg/browser"
	"github.com/arji-ai/arji/pkg/browser/cdp"
	"github.com/arji-ai/arji/pkg/browser/pool"
	"github.com/arji-ai/arji/pkg/provider/llm"
	"github.com/arji-ai/arji/pkg/provider/llm/anyllm"
	"github.com/arji-ai/arji/pkg/provider/llm/openai"
	"github.com/arji-ai/arji/pkg/provider/stt"
	"github.com/arji-ai/arji/pkg/provider/stt/bhashini"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets like ARJI_OPENAI_API_KEY come from the environment; a local
	// .env file is a convenience for development and optional.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "arji: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "arji: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("arji starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "arji",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Form schema ───────────────────────────────────────────────────────────
	var reg *schema.Registry
	if cfg.SchemaPath != "" {
		reg, err = schema.LoadYAML(cfg.SchemaPath)
		if err != nil {
			slog.Error("failed to load form schema", "path", cfg.SchemaPath, "err", err)
			return 1
		}
		slog.Info("form schema loaded", "path", cfg.SchemaPath, "groups", reg.TotalGroups())
	} else {
		reg = schema.Scholarship()
		slog.Info("using built-in scholarship schema", "groups", reg.TotalGroups())
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	providerReg := config.NewRegistry()
	registerBuiltinProviders(providerReg)

	llmProvider, sttProvider, err := buildProviders(cfg, providerReg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Session store ─────────────────────────────────────────────────────────
	var store session.Store
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := session.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		slog.Info("session store ready", "backend", "postgres")
	} else {
		store = session.NewMemStore()
		slog.Info("session store ready", "backend", "memory")
	}

	// ── Session machine ───────────────────────────────────────────────────────
	var machineOpts []session.MachineOption
	if cfg.Session.TimeoutMinutes > 0 {
		machineOpts = append(machineOpts, session.WithTimeout(time.Duration(cfg.Session.TimeoutMinutes)*time.Minute))
	}
	if cfg.Session.AcceptConfidence > 0 {
		machineOpts = append(machineOpts, session.WithThreshold(cfg.Session.AcceptConfidence))
	}
	machine := session.NewMachine(store, reg, extract.NewLLM(llmProvider), sttProvider, machineOpts...)

	sweepInterval := 60 * time.Second
	if cfg.Session.SweepIntervalSeconds > 0 {
		sweepInterval = time.Duration(cfg.Session.SweepIntervalSeconds) * time.Second
	}
	go machine.RunSweeper(ctx, sweepInterval)

	// ── Browser source ────────────────────────────────────────────────────────
	source, closeSource, err := buildBrowserSource(ctx, cfg.Form.Browser)
	if err != nil {
		slog.Error("failed to set up browser source", "err", err)
		return 1
	}
	defer closeSource()

	// ── Fill engine ───────────────────────────────────────────────────────────
	var engineOpts []formfill.Option
	if cfg.Form.CaptchaSelector != "" {
		engineOpts = append(engineOpts, formfill.WithCaptchaSelector(cfg.Form.CaptchaSelector))
	}
	if cfg.Form.FillTimeoutSeconds > 0 {
		engineOpts = append(engineOpts, formfill.WithFillTimeout(time.Duration(cfg.Form.FillTimeoutSeconds)*time.Second))
	}
	if cfg.Form.ScreenshotDir != "" {
		engineOpts = append(engineOpts, formfill.WithScreenshotDir(cfg.Form.ScreenshotDir))
	}
	engine := formfill.NewEngine(machine, reg, source, cfg.Form.URL, engineOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(
		health.Ping("store", store),
		health.Ping("browser", source),
	)
	server := api.New(machine, engine, healthHandler)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm routes to any backend supported by the any-llm gateway; the
	// backend name lives in options.provider (e.g. "ollama", "mistral").
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		backend := optString(entry.Options, "provider")
		if backend == "" {
			backend = "ollama"
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("bhashini", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []bhashini.Option
		if entry.BaseURL != "" {
			opts = append(opts, bhashini.WithEndpoint(entry.BaseURL))
		}
		if id := optString(entry.Options, "service_id"); id != "" {
			opts = append(opts, bhashini.WithServiceID(id))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, bhashini.WithLanguage(lang))
		}
		return bhashini.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the LLM and STT providers named in cfg,
// wrapping them in circuit-breaker fallback groups when fallbacks are
// configured. The returned STT provider is nil when none is configured;
// audio turns are then rejected.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, stt.Provider, error) {
	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.BreakerConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "role", "fallback")
		}
		llmProvider = group
	}

	var sttProvider stt.Provider
	if cfg.Providers.STT.Name != "" {
		sttProvider, err = reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

		if len(cfg.Providers.STTFallbacks) > 0 {
			group := resilience.NewSTTFallback(sttProvider, cfg.Providers.STT.Name, resilience.BreakerConfig{})
			for _, entry := range cfg.Providers.STTFallbacks {
				p, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, p)
				slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
			}
			sttProvider = group
		}
	}

	return llmProvider, sttProvider, nil
}

// buildBrowserSource sets up the configured browser source and returns a
// cleanup function to run on shutdown.
func buildBrowserSource(ctx context.Context, cfg config.BrowserConfig) (browser.Source, func(), error) {
	if cfg.Mode == config.BrowserFixed {
		src := &cdp.Fixed{URL: cfg.DevtoolsURL}
		slog.Info("browser source ready", "mode", "fixed", "devtools_url", cfg.DevtoolsURL)
		return src, func() {}, nil
	}

	var opts []pool.Option
	if cfg.Image != "" {
		opts = append(opts, pool.WithImage(cfg.Image))
	}
	if cfg.Capacity > 0 {
		opts = append(opts, pool.WithCapacity(int64(cfg.Capacity)))
	}
	p, err := pool.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	// Pre-pull the image so the first fill does not pay the download. A
	// failure here is not fatal; Acquire retries the pull.
	if err := p.EnsureImage(ctx); err != nil {
		slog.Warn("could not pre-pull browser image", "err", err)
	}

	slog.Info("browser source ready", "mode", "pool")
	cleanup := func() {
		if err := p.Close(); err != nil {
			slog.Warn("browser pool close error", "err", err)
		}
	}
	return p, cleanup, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Arji — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Session store   : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Session store   : %-19s ║\n", "memory")
	}
	mode := cfg.Form.Browser.Mode
	if mode == "" {
		mode = config.BrowserPool
	}
	fmt.Printf("║  Browser         : %-19s ║\n", string(mode))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
