package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anyllm"},
	"stt": {"bhashini"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, e := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", e.Name)
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; answers cannot be extracted without a language model"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; audio turns will be rejected")
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks set without a primary providers.llm"))
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks set without a primary providers.stt"))
	}

	// Session
	if cfg.Session.TimeoutMinutes < 0 {
		errs = append(errs, fmt.Errorf("session.timeout_minutes %d must not be negative", cfg.Session.TimeoutMinutes))
	}
	if cfg.Session.SweepIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval_seconds %d must not be negative", cfg.Session.SweepIntervalSeconds))
	}
	if cfg.Session.AcceptConfidence < 0 || cfg.Session.AcceptConfidence > 1 {
		errs = append(errs, fmt.Errorf("session.accept_confidence %.2f is out of range [0, 1]", cfg.Session.AcceptConfidence))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; sessions are kept in memory and lost on restart")
	}

	// Form
	if cfg.Form.URL == "" {
		errs = append(errs, errors.New("form.url is required"))
	} else if u, err := url.Parse(cfg.Form.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("form.url %q must be an http(s) URL", cfg.Form.URL))
	}
	if cfg.Form.FillTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("form.fill_timeout_seconds %d must not be negative", cfg.Form.FillTimeoutSeconds))
	}

	// Browser
	b := cfg.Form.Browser
	if b.Mode != "" && !b.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("form.browser.mode %q is invalid; valid values: pool, fixed", b.Mode))
	}
	if b.Mode == BrowserFixed && b.DevtoolsURL == "" {
		errs = append(errs, errors.New("form.browser.devtools_url is required when mode is fixed"))
	}
	if b.Capacity < 0 {
		errs = append(errs, fmt.Errorf("form.browser.capacity %d must not be negative", b.Capacity))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
