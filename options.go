package delphi

import "log/slog"

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger          *slog.Logger
	version         string
	databaseURL     string
	cachePath       string
	panelFile       string
	modelCaller     ModelCaller
	contextProvider ContextProvider
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP handshake.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDatabaseURL overrides the reputation database DSN from config
// (DATABASE_URL env var). An empty DSN disables reputation tracking.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithCachePath overrides the SQLite response-cache path from config
// (DELPHI_CACHE_PATH env var). Use ":memory:" for an ephemeral cache.
func WithCachePath(path string) Option {
	return func(o *resolvedOptions) { o.cachePath = path }
}

// WithPanelFile overrides the panel definition file from config
// (DELPHI_PANEL_FILE env var). An empty path loads the built-in corps.
func WithPanelFile(path string) Option {
	return func(o *resolvedOptions) { o.panelFile = path }
}

// WithModelCaller replaces the configured Ollama/OpenAI backend.
// The engine's retry and circuit-breaker layers still apply.
func WithModelCaller(c ModelCaller) Option {
	return func(o *resolvedOptions) { o.modelCaller = c }
}

// WithContextProvider supplies background material to the panel. Without
// one, agents answer from their own knowledge.
func WithContextProvider(p ContextProvider) Option {
	return func(o *resolvedOptions) { o.contextProvider = p }
}
