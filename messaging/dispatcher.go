package messaging

import (
	"context"
	"time"

	"fetchbridge/core"
	"fetchbridge/models"
)

// Backend is the part of the bridge the native host drives.
type Backend interface {
	Fetch(ctx context.Context, payload models.FetchPayload, tabID int) models.Envelope
	Abort(requestID string) bool
	ClearLogs()
	LogEntries() []models.LogEntry
	ConfiguredNames() []string
}

// BridgeBackend adapts *core.Bridge to Backend.
type BridgeBackend struct {
	*core.Bridge
}

func (b BridgeBackend) LogEntries() []models.LogEntry {
	return b.Logs.List()
}

func (b BridgeBackend) ConfiguredNames() []string {
	return b.Credentials().ConfiguredNames()
}

type Dispatcher struct {
	backend Backend
	started time.Time
}

func NewDispatcher(backend Backend) *Dispatcher {
	return &Dispatcher{backend: backend, started: time.Now()}
}

// Dispatch handles one validated message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Reply {
	reply := Reply{ID: msg.ID, Type: msg.Type, OK: true}
	switch msg.Type {
	case TypeFetch:
		env := d.backend.Fetch(ctx, *msg.Fetch, msg.TabID)
		reply.OK = env.OK
		reply.Response = env.Response
		reply.Error = env.Error
	case TypeAbort:
		reply.Data = map[string]bool{"aborted": d.backend.Abort(msg.Abort.RequestID)}
	case TypeLogsList:
		reply.Data = core.Query(d.backend.LogEntries(), *msg.Filters)
	case TypeLogsClear:
		d.backend.ClearLogs()
	case TypeSettingsNames:
		names := d.backend.ConfiguredNames()
		if names == nil {
			names = []string{}
		}
		reply.Data = names
	case TypePing:
		reply.Data = map[string]interface{}{
			"pong":     true,
			"version":  core.Version,
			"uptimeMs": time.Since(d.started).Milliseconds(),
		}
	}
	return reply
}
