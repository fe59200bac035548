// Package agent wires tool sessions to an LLM backend and answers queries.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpchat/internal/domain"
	"mcpchat/internal/metrics"
	"mcpchat/internal/provider"
	"mcpchat/internal/toolserver"
)

const defaultConnectTimeout = 30 * time.Second

// ToolSession is a connected tool server as the orchestrator sees it.
type ToolSession interface {
	Name() string
	Tools() []domain.ToolDescriptor
	Invoke(ctx context.Context, tool string, arguments any) (any, error)
	Close() error
}

// ConnectFunc opens a session to one configured server.
type ConnectFunc func(ctx context.Context, cfg domain.ServerConfig) (ToolSession, error)

// SessionConnector returns a ConnectFunc backed by toolserver.Connect.
func SessionConnector(opts ...toolserver.Option) ConnectFunc {
	return func(ctx context.Context, cfg domain.ServerConfig) (ToolSession, error) {
		s, err := toolserver.Connect(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type Config struct {
	Registry       *toolserver.Registry
	Backend        *provider.Backend
	Connect        ConnectFunc
	Transcripts    domain.TranscriptStore // optional
	Metrics        *metrics.Collector     // optional
	Logger         *slog.Logger
	ConnectTimeout time.Duration
}

// Orchestrator owns the tool sessions and the merged tool catalog.
type Orchestrator struct {
	registry       *toolserver.Registry
	connect        ConnectFunc
	transcripts    domain.TranscriptStore
	metrics        *metrics.Collector
	logger         *slog.Logger
	connectTimeout time.Duration

	mu       sync.RWMutex
	backend  *provider.Backend
	sessions []ToolSession
	owners   map[string]ToolSession
	catalog  []domain.ToolDescriptor
	closed   bool
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Connect == nil {
		cfg.Connect = SessionConnector(toolserver.WithLogger(cfg.Logger))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	o := &Orchestrator{
		registry:       cfg.Registry,
		connect:        cfg.Connect,
		transcripts:    cfg.Transcripts,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		connectTimeout: cfg.ConnectTimeout,
		owners:         make(map[string]ToolSession),
	}
	if cfg.Backend != nil {
		o.SwitchBackend(cfg.Backend)
	}
	return o
}

// Initialize loads the server configs and connects to each server in turn.
// Servers that fail to connect are logged and left out. Only an unreadable
// config directory or a cancelled ctx is returned as an error.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o.registry == nil {
		return errors.New("agent: no server registry configured")
	}
	if err := o.registry.Load(); err != nil {
		if errors.Is(err, toolserver.ErrConfigDir) {
			return err
		}
		o.logger.Error("skipping invalid server config", "error", err)
	}

	for _, name := range o.registry.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cfg, _ := o.registry.Get(name)

		cctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
		s, err := o.connect(cctx, cfg)
		cancel()
		if err != nil {
			o.logger.Error("failed to connect to server", "server", name, "error", err)
			continue
		}
		o.addSession(s)
	}

	o.mu.RLock()
	o.logger.Info("tool servers ready", "servers", len(o.sessions), "tools", len(o.catalog))
	o.mu.RUnlock()
	return nil
}

func (o *Orchestrator) addSession(s ToolSession) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var names []string
	for _, d := range s.Tools() {
		if owner, taken := o.owners[d.Name]; taken {
			o.logger.Warn("duplicate tool name ignored", "tool", d.Name, "server", s.Name(), "owner", owner.Name())
			continue
		}
		o.owners[d.Name] = s
		o.catalog = append(o.catalog, d)
		names = append(names, d.Name)
	}
	o.sessions = append(o.sessions, s)
	o.logger.Info("connected to server", "server", s.Name(), "tools", names)
}

// SwitchBackend replaces the backend used for subsequent queries. A nil
// backend clears it, and queries fail until another one is set.
func (o *Orchestrator) SwitchBackend(b *provider.Backend) {
	if b != nil {
		b.BindToolRouter(o)
	}
	o.mu.Lock()
	o.backend = b
	o.mu.Unlock()
}

// ProcessQuery answers one query with the current catalog.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) (string, error) {
	o.mu.RLock()
	backend := o.backend
	catalog := make([]domain.ToolDescriptor, len(o.catalog))
	copy(catalog, o.catalog)
	o.mu.RUnlock()

	if backend == nil {
		return "", errors.New("agent: no backend configured")
	}

	rec := &callRecorder{}
	start := time.Now()
	answer, err := backend.Answer(withRecorder(ctx, rec), query, catalog)
	o.metrics.ObserveQuery(time.Since(start), err)
	o.saveTranscript(ctx, domain.QueryRecord{
		Provider:  backend.Name(),
		Query:     query,
		Answer:    answer,
		Error:     errorText(err),
		ToolCalls: rec.list(),
		LatencyMs: time.Since(start).Milliseconds(),
	})
	return answer, err
}

// RouteToolCall sends a call to the session owning the tool name.
func (o *Orchestrator) RouteToolCall(ctx context.Context, name string, args any) (any, error) {
	o.mu.RLock()
	s, ok := o.owners[name]
	o.mu.RUnlock()
	if !ok {
		return nil, &domain.UnknownToolError{Tool: name}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rec := recorderFrom(ctx); rec != nil {
		rec.add(name)
	}
	o.logger.Info("calling tool", "tool", name, "server", s.Name())
	start := time.Now()
	result, err := s.Invoke(ctx, name, args)
	o.metrics.ObserveTool(time.Since(start), err)
	return result, err
}

// Cleanup closes every session once. Later calls do nothing.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	sessions := o.sessions
	o.sessions = nil
	o.owners = make(map[string]ToolSession)
	o.catalog = nil
	o.mu.Unlock()

	for i := len(sessions) - 1; i >= 0; i-- {
		o.closeSession(sessions[i])
	}
}

func (o *Orchestrator) closeSession(s ToolSession) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic closing server", "server", s.Name(), "panic", fmt.Sprint(r))
		}
	}()
	if err := s.Close(); err != nil {
		o.logger.Warn("error closing server", "server", s.Name(), "error", err)
		return
	}
	o.logger.Debug("server closed", "server", s.Name())
}

// Catalog returns the merged tool catalog.
func (o *Orchestrator) Catalog() []domain.ToolDescriptor {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.ToolDescriptor, len(o.catalog))
	copy(out, o.catalog)
	return out
}

// Metrics returns the collector counting queries and tool calls.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Servers returns the connected server names in connect order.
func (o *Orchestrator) Servers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.Name())
	}
	return out
}

func (o *Orchestrator) saveTranscript(ctx context.Context, rec domain.QueryRecord) {
	if o.transcripts == nil {
		return
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now()
	// Recorded even when the query context was cancelled.
	if err := o.transcripts.SaveQuery(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("failed to save transcript", "error", err)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// callRecorder collects the tool names dispatched for one query.
type callRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *callRecorder) add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *callRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.names) == 0 {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

type recorderKey struct{}

func withRecorder(ctx context.Context, r *callRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

func recorderFrom(ctx context.Context) *callRecorder {
	r, _ := ctx.Value(recorderKey{}).(*callRecorder)
	return r
}
