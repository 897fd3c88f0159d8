package core

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"fetchbridge/logger"
	"fetchbridge/models"

	"github.com/gorilla/websocket"
)

type BridgeConfig struct {
	DefaultTimeout   time.Duration
	MaxLogs          int
	PreviewChars     int
	MaxResponseBytes int64
	SkipTLSVerify    bool
	Persister        LogPersister
	Settings         models.Settings
	// SaveSettings persists settings accepted by UpdateSettings. Optional.
	SaveSettings func(models.Settings) error
	Transport    http.RoundTripper
	Dialer       *websocket.Dialer
}

// Bridge wires the policy snapshot, audit log, event hub, cache and the three
// request paths together. Every front end (native host, HTTP API, CLI) drives
// the same Bridge.
type Bridge struct {
	settings atomic.Pointer[models.Settings]
	save     func(models.Settings) error

	Logs     *LogStore
	Hub      *Hub
	Cache    *ResponseCache
	Metrics  *Metrics
	Executor *Executor
	Streams  *StreamBridge
	Sockets  *SocketBridge
}

func NewBridge(cfg BridgeConfig) *Bridge {
	b := &Bridge{
		save:    cfg.SaveSettings,
		Logs:    NewLogStore(cfg.Persister),
		Hub:     NewHub(),
		Cache:   NewResponseCache(),
		Metrics: NewMetrics(),
	}
	initial := cfg.Settings.Clone()
	b.settings.Store(&initial)

	b.Executor = NewExecutor(ExecutorConfig{
		Client:           NewHTTPClient(cfg.SkipTLSVerify, cfg.Transport),
		Cache:            b.Cache,
		Logs:             b.Logs,
		Metrics:          b.Metrics,
		Settings:         b.Settings,
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxLogs:          cfg.MaxLogs,
		PreviewChars:     cfg.PreviewChars,
		MaxResponseBytes: cfg.MaxResponseBytes,
	})
	b.Streams = NewStreamBridge(b.Executor)
	b.Sockets = NewSocketBridge(b.Executor, cfg.Dialer)
	return b
}

// Settings returns a copy of the current policy snapshot.
func (b *Bridge) Settings() models.Settings {
	return b.settings.Load().Clone()
}

// UpdateSettings persists s and makes it the snapshot seen by requests
// dispatched afterwards. Requests already in flight keep their snapshot.
func (b *Bridge) UpdateSettings(s models.Settings) error {
	next := s.Clone()
	if b.save != nil {
		if err := b.save(next); err != nil {
			return err
		}
	}
	b.settings.Store(&next)
	logger.Info("Bridge: settings updated (%d origins, %d destinations, %d rules, %d credentials)",
		len(next.AllowedOrigins), len(next.AllowedDestinations), len(next.InjectionRules), len(next.Env))
	return nil
}

// Credentials returns a read-only view over the configured credentials.
func (b *Bridge) Credentials() *CredentialStore {
	return NewCredentialStore(b.settings.Load().Env)
}

func (b *Bridge) Fetch(ctx context.Context, payload models.FetchPayload, tabID int) models.Envelope {
	return b.Executor.HandleFetch(ctx, payload, tabID, b.Hub.Publish)
}

func (b *Bridge) Stream(ctx context.Context, payload models.FetchPayload, tabID int, sink StreamSink) error {
	return b.Streams.HandleStream(ctx, payload, tabID, sink, b.Hub.Publish)
}

func (b *Bridge) Relay(ctx context.Context, open models.SocketOpen, tabID int, page FrameConn) error {
	return b.Sockets.Relay(ctx, open, tabID, page, b.Hub.Publish)
}

func (b *Bridge) Abort(requestID string) bool {
	return b.Executor.Abort(requestID)
}

func (b *Bridge) ClearLogs() {
	b.Logs.Clear(b.Hub.Publish)
}
