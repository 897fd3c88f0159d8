package core

import (
	"net/http"
	"strings"

	"fetchbridge/models"
)

// Headers is an ordered header set. Lookups ignore case, the first spelling
// seen for a name is kept, and repeated names are folded into one field.
type Headers struct {
	fields []models.HeaderField
}

func NewHeaders(list models.HeaderList) *Headers {
	h := &Headers{}
	for _, f := range list {
		h.Add(f.Name, f.Value)
	}
	return h
}

func (h *Headers) index(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

func (h *Headers) Get(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].Value, true
	}
	return "", false
}

func (h *Headers) Has(name string) bool {
	return h.index(name) >= 0
}

// Set replaces any existing value, keeping the original spelling.
func (h *Headers) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].Value = value
		return
	}
	h.fields = append(h.fields, models.HeaderField{Name: name, Value: value})
}

// Add appends to an existing value with ", " the way fetch's Headers does.
func (h *Headers) Add(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].Value += ", " + value
		return
	}
	h.fields = append(h.fields, models.HeaderField{Name: name, Value: value})
}

func (h *Headers) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

func (h *Headers) Len() int {
	return len(h.fields)
}

func (h *Headers) Fields() models.HeaderList {
	return append(models.HeaderList(nil), h.fields...)
}

// Map snapshots the headers, replacing the values of names listed in redact.
func (h *Headers) Map(redact ...string) map[string]string {
	out := make(map[string]string, len(h.fields))
	for _, f := range h.fields {
		v := f.Value
		for _, r := range redact {
			if strings.EqualFold(r, f.Name) {
				v = redactedValue
				break
			}
		}
		out[f.Name] = v
	}
	return out
}

func (h *Headers) HTTP() http.Header {
	out := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		out.Add(f.Name, f.Value)
	}
	return out
}
