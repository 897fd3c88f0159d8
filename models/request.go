package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// FetchPayload is the request message a page sends to the bridge.
type FetchPayload struct {
	RequestID  string      `json:"requestId"`
	URL        string      `json:"url"`
	PageOrigin string      `json:"pageOrigin,omitempty"`
	Init       RequestInit `json:"init"`
}

// RequestInit mirrors the fields of a fetch() init dictionary. Options holds
// the bridge-specific extensions (timeout, retry, cache, streaming).
type RequestInit struct {
	Method         string        `json:"method,omitempty"`
	Headers        HeaderList    `json:"headers,omitempty"`
	Body           RequestBody   `json:"body"`
	Redirect       string        `json:"redirect,omitempty"`
	Credentials    string        `json:"credentials,omitempty"`
	Cache          string        `json:"cache,omitempty"`
	Referrer       string        `json:"referrer,omitempty"`
	ReferrerPolicy string        `json:"referrerPolicy,omitempty"`
	Integrity      string        `json:"integrity,omitempty"`
	Keepalive      bool          `json:"keepalive,omitempty"`
	Options        *FetchOptions `json:"options,omitempty"`
}

type FetchOptions struct {
	Mode      string        `json:"mode,omitempty"`
	TimeoutMs *int          `json:"timeoutMs,omitempty"`
	Retry     *RetryOptions `json:"retry,omitempty"`
	Cache     *CacheOptions `json:"cache,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type RetryOptions struct {
	MaxAttempts int   `json:"maxAttempts,omitempty"`
	BackoffMs   *int  `json:"backoffMs,omitempty"`
	RetryOn     []int `json:"retryOn,omitempty"`
}

type CacheOptions struct {
	TTLMs int    `json:"ttlMs,omitempty"`
	Key   string `json:"key,omitempty"`
}

// Fetch modes understood by the page shim.
const (
	ModeAuto   = "auto"
	ModeAlways = "always"
	ModeOff    = "off"
)

// AbortMessage cancels an in-flight request.
type AbortMessage struct {
	RequestID string `json:"requestId"`
}

type HeaderField struct {
	Name  string
	Value string
}

// HeaderList is an ordered header collection. It decodes from a JSON object
// ({"k":"v"} or {"k":["v1","v2"]}), an array of [name, value] pairs, an array
// of {"name":..,"value":..} objects, or an array of "Name: value" strings.
type HeaderList []HeaderField

func (h *HeaderList) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("headers: invalid JSON")
	}
	parsed, err := ParseHeaders(gjson.ParseBytes(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h HeaderList) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(h))
	for _, f := range h {
		pairs = append(pairs, [2]string{f.Name, f.Value})
	}
	return json.Marshal(pairs)
}

// ParseHeaders converts any accepted header shape into a HeaderList.
func ParseHeaders(v gjson.Result) (HeaderList, error) {
	var out HeaderList
	add := func(name, value string) {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, HeaderField{Name: name, Value: value})
		}
	}

	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return nil, nil
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			switch {
			case val.IsArray():
				for _, item := range val.Array() {
					add(key.String(), item.String())
				}
			case val.Type == gjson.Null:
			default:
				add(key.String(), val.String())
			}
			return true
		})
	case v.IsArray():
		var bad error
		v.ForEach(func(_, item gjson.Result) bool {
			switch {
			case item.IsArray():
				pair := item.Array()
				if len(pair) < 2 {
					bad = fmt.Errorf("headers: pair %s needs a name and a value", item.Raw)
					return false
				}
				add(pair[0].String(), pair[1].String())
			case item.IsObject():
				add(item.Get("name").String(), item.Get("value").String())
			case item.Type == gjson.String:
				name, value, ok := strings.Cut(item.String(), ":")
				if !ok {
					bad = fmt.Errorf("headers: %q is not a 'Name: value' line", item.String())
					return false
				}
				add(name, strings.TrimSpace(value))
			default:
				bad = fmt.Errorf("headers: unsupported entry %s", item.Raw)
				return false
			}
			return true
		})
		if bad != nil {
			return nil, bad
		}
	default:
		return nil, fmt.Errorf("headers: expected object or array, got %s", v.Type)
	}
	return out, nil
}

// RequestBody is either text or a binary marker carrying base64 bytes and
// their declared length.
type RequestBody struct {
	Present    bool
	Text       string
	Binary     bool
	Base64     string
	ByteLength int
}

func TextBody(s string) RequestBody {
	return RequestBody{Present: true, Text: s}
}

func (b *RequestBody) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("body: invalid JSON")
	}
	r := gjson.ParseBytes(data)
	switch {
	case r.Type == gjson.Null:
		*b = RequestBody{}
	case r.Type == gjson.String:
		*b = RequestBody{Present: true, Text: r.String()}
	case r.IsObject():
		if !r.Get("binary").Bool() && !r.Get("base64").Exists() {
			return fmt.Errorf("body: object without a binary marker: %s", r.Raw)
		}
		*b = RequestBody{
			Present:    true,
			Binary:     true,
			Base64:     r.Get("base64").String(),
			ByteLength: int(r.Get("byteLength").Int()),
		}
	case r.IsArray():
		return errors.New("body: arrays are not supported; send text or a binary marker")
	default:
		*b = RequestBody{Present: true, Text: r.String()}
	}
	return nil
}

func (b RequestBody) MarshalJSON() ([]byte, error) {
	switch {
	case !b.Present:
		return []byte("null"), nil
	case b.Binary:
		return json.Marshal(struct {
			Binary     bool   `json:"binary"`
			Base64     string `json:"base64"`
			ByteLength int    `json:"byteLength"`
		}{true, b.Base64, b.ByteLength})
	default:
		return json.Marshal(b.Text)
	}
}
