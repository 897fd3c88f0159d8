package core

import (
	"encoding/json"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"fetchbridge/models"
)

const (
	harVersion  = "1.2"
	creatorName = "fetchbridge"
	ExportJSON  = "json"
	ExportHAR   = "har"
	Version     = "0.3.0"
)

// Query filters entries (newest first) and applies offset and limit.
func Query(entries []models.LogEntry, f models.LogFilters) []models.LogEntry {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.Stage != "" && e.Stage != f.Stage {
			continue
		}
		if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
			continue
		}
		if f.TabID != nil && e.TabID != *f.TabID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.URL), search) &&
			!strings.Contains(strings.ToLower(e.PageOrigin), search) &&
			!strings.Contains(strings.ToLower(e.Error), search) {
			continue
		}
		out = append(out, e)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.LogEntry{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// WriteExport writes entries in the named format.
func WriteExport(w io.Writer, format string, entries []models.LogEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if format == ExportHAR {
		return enc.Encode(ToHAR(entries))
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	return enc.Encode(entries)
}

// ToHAR converts audit entries to a HAR 1.2 document, oldest first. Bodies
// are the stored previews, so they may be truncated.
func ToHAR(entries []models.LogEntry) models.HAR {
	sorted := append([]models.LogEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.Before(sorted[j].StartedAt)
	})

	har := models.HAR{Log: models.HARLog{
		Version: harVersion,
		Creator: models.HARCreator{Name: creatorName, Version: Version},
		Entries: make([]models.HAREntry, 0, len(sorted)),
	}}
	for _, e := range sorted {
		har.Log.Entries = append(har.Log.Entries, harEntry(e))
	}
	return har
}

func harEntry(e models.LogEntry) models.HAREntry {
	reqHeaders := nameValues(e.RequestHeaders)
	respHeaders := nameValues(e.ResponseHeaders)

	req := models.HARRequest{
		Method:      e.Method,
		URL:         e.URL,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []models.HARNameValue{},
		Headers:     reqHeaders,
		QueryString: queryString(e.URL),
		HeadersSize: -1,
		BodySize:    -1,
	}
	if e.RequestBodyPreview != "" {
		req.PostData = &models.HARPostData{
			MimeType: headerValue(e.RequestHeaders, "content-type"),
			Text:     e.RequestBodyPreview,
		}
		req.BodySize = len(e.RequestBodyPreview)
	}

	resp := models.HARResponse{
		Status:      e.Status,
		StatusText:  e.StatusText,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []models.HARNameValue{},
		Headers:     respHeaders,
		Content: models.HARContent{
			Size:     len(e.ResponseBodyPreview),
			MimeType: headerValue(e.ResponseHeaders, "content-type"),
			Text:     e.ResponseBodyPreview,
		},
		RedirectURL: headerValue(e.ResponseHeaders, "location"),
		HeadersSize: -1,
		BodySize:    -1,
	}
	if e.BytesIn > 0 {
		resp.BodySize = int(e.BytesIn)
	}

	out := models.HAREntry{
		StartedDateTime: e.StartedAt.UTC().Format(time.RFC3339Nano),
		Time:            float64(e.ElapsedMs),
		Request:         req,
		Response:        resp,
		Timings:         models.HARTimings{Send: 0, Wait: float64(e.ElapsedMs), Receive: 0},
	}
	notes := []string{"kind="+string(e.Kind), "stage="+string(e.Stage), "origin="+e.PageOrigin}
	if e.Cached {
		out.Cache.Comment = "served from bridge cache"
	}
	if e.Error != "" {
		notes = append(notes, "error="+e.Error)
	}
	out.Comment = strings.Join(notes, "; ")
	return out
}

func nameValues(m map[string]string) []models.HARNameValue {
	out := make([]models.HARNameValue, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, models.HARNameValue{Name: k, Value: m[k]})
	}
	return out
}

func headerValue(m map[string]string, name string) string {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func queryString(raw string) []models.HARNameValue {
	out := []models.HARNameValue{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, models.HARNameValue{Name: k, Value: v})
		}
	}
	return out
}
