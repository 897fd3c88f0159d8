package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fetchbridge/models"

	"github.com/tidwall/gjson"
)

type MessageType string

const (
	TypeFetch         MessageType = "fetch"
	TypeAbort         MessageType = "abort"
	TypeLogsList      MessageType = "logs.list"
	TypeLogsClear     MessageType = "logs.clear"
	TypeSettingsNames MessageType = "settings.names"
	TypePing          MessageType = "ping"
	TypeError         MessageType = "error"
)

var knownTypes = map[MessageType]bool{
	TypeFetch:         true,
	TypeAbort:         true,
	TypeLogsList:      true,
	TypeLogsClear:     true,
	TypeSettingsNames: true,
	TypePing:          true,
}

var ErrInvalidMessage = errors.New("invalid message")

// Message is one decoded inbound frame. Only the field matching Type is set.
type Message struct {
	Type    MessageType
	ID      string
	TabID   int
	Fetch   *models.FetchPayload
	Abort   *models.AbortMessage
	Filters *models.LogFilters
}

// Reply is written back for every message. ID echoes the message id.
type Reply struct {
	ID       string           `json:"id,omitempty"`
	Type     MessageType      `json:"type"`
	OK       bool             `json:"ok"`
	Response *models.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
	Data     interface{}      `json:"data,omitempty"`
}

func errorReply(id string, t MessageType, err error) Reply {
	if t == "" {
		t = TypeError
	}
	return Reply{ID: id, Type: t, OK: false, Error: err.Error()}
}

// ParseMessage decodes and validates a frame. On error the returned Message
// still carries whatever id and type could be read, so the caller can reply.
func ParseMessage(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("%w: not valid JSON", ErrInvalidMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: expected an object", ErrInvalidMessage)
	}

	msg := Message{
		Type:  MessageType(strings.TrimSpace(root.Get("type").String())),
		ID:    root.Get("id").String(),
		TabID: int(root.Get("tabId").Int()),
	}
	if msg.ID == "" {
		msg.ID = root.Get("requestId").String()
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	if !knownTypes[msg.Type] {
		return msg, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	switch msg.Type {
	case TypeFetch:
		var p models.FetchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if strings.TrimSpace(p.URL) == "" {
			return msg, fmt.Errorf("%w: fetch requires url", ErrInvalidMessage)
		}
		msg.Fetch = &p
	case TypeAbort:
		id := root.Get("requestId").String()
		if id == "" {
			return msg, fmt.Errorf("%w: abort requires requestId", ErrInvalidMessage)
		}
		msg.Abort = &models.AbortMessage{RequestID: id}
	case TypeLogsList:
		f := models.LogFilters{
			Limit:  int(root.Get("limit").Int()),
			Offset: int(root.Get("offset").Int()),
			Kind:   models.LogKind(root.Get("kind").String()),
			Stage:  models.Stage(root.Get("stage").String()),
			Method: root.Get("method").String(),
			Search: root.Get("search").String(),
		}
		if tab := root.Get("filterTabId"); tab.Exists() {
			v := int(tab.Int())
			f.TabID = &v
		}
		msg.Filters = &f
	}
	return msg, nil
}
