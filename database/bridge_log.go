package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fetchbridge/models"
)

var ErrBridgeLogNotFound = errors.New("bridge log entry not found")

// LogMirror persists the in-memory audit log to the bridge_logs table.
type LogMirror struct{}

func (LogMirror) InsertLogEntry(entry models.LogEntry) error {
	return InsertBridgeLog(entry)
}

func (LogMirror) UpdateLogEntry(entry models.LogEntry) error {
	return UpdateBridgeLog(entry)
}

func (LogMirror) TrimLogEntries(keep int) error {
	return TrimBridgeLogs(keep)
}

func (LogMirror) ClearLogEntries() error {
	return ClearBridgeLogs()
}

func InsertBridgeLog(entry models.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling bridge log %s: %w", entry.ID, err)
	}
	_, err = DB.Exec(`
		INSERT OR REPLACE INTO bridge_logs
			(id, seq, request_id, tab_id, kind, stage, pending, method, url, page_origin,
			 status, status_text, elapsed_ms, error, started_at, updated_at, entry_json)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM bridge_logs), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.TabID, string(entry.Kind), string(entry.Stage), entry.Pending,
		entry.Method, entry.URL, entry.PageOrigin, entry.Status, entry.StatusText, entry.ElapsedMs,
		entry.Error, entry.StartedAt, entry.UpdatedAt, string(data))
	if err != nil {
		return fmt.Errorf("inserting bridge log %s: %w", entry.ID, err)
	}
	return nil
}

func UpdateBridgeLog(entry models.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling bridge log %s: %w", entry.ID, err)
	}
	res, err := DB.Exec(`
		UPDATE bridge_logs
		SET stage = ?, pending = ?, status = ?, status_text = ?, elapsed_ms = ?, error = ?,
		    updated_at = ?, entry_json = ?
		WHERE id = ?`,
		string(entry.Stage), entry.Pending, entry.Status, entry.StatusText, entry.ElapsedMs,
		entry.Error, entry.UpdatedAt, string(data), entry.ID)
	if err != nil {
		return fmt.Errorf("updating bridge log %s: %w", entry.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating bridge log %s: %w", entry.ID, ErrBridgeLogNotFound)
	}
	return nil
}

// TrimBridgeLogs keeps only the newest keep entries.
func TrimBridgeLogs(keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := DB.Exec(`
		DELETE FROM bridge_logs
		WHERE id NOT IN (SELECT id FROM bridge_logs ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("trimming bridge logs to %d: %w", keep, err)
	}
	return nil
}

func ClearBridgeLogs() error {
	if _, err := DB.Exec("DELETE FROM bridge_logs"); err != nil {
		return fmt.Errorf("clearing bridge logs: %w", err)
	}
	return nil
}

// ListBridgeLogs returns matching entries newest first, with the total
// number of matches before paging.
func ListBridgeLogs(filters models.LogFilters) ([]models.LogEntry, int64, error) {
	var where []string
	var args []interface{}
	if filters.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filters.Kind))
	}
	if filters.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(filters.Stage))
	}
	if filters.Method != "" {
		where = append(where, "UPPER(method) = ?")
		args = append(args, strings.ToUpper(filters.Method))
	}
	if filters.TabID != nil {
		where = append(where, "tab_id = ?")
		args = append(args, *filters.TabID)
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		where = append(where, "(LOWER(url) LIKE ? OR LOWER(page_origin) LIKE ? OR LOWER(error) LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := DB.QueryRow("SELECT COUNT(*) FROM bridge_logs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting bridge logs: %w", err)
	}
	entries := []models.LogEntry{}
	if total == 0 {
		return entries, 0, nil
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = -1
	}
	query := "SELECT entry_json FROM bridge_logs" + clause + " ORDER BY seq DESC LIMIT ? OFFSET ?"
	rows, err := DB.Query(query, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, total, fmt.Errorf("querying bridge logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, total, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func GetBridgeLog(id string) (models.LogEntry, error) {
	row := DB.QueryRow("SELECT entry_json FROM bridge_logs WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entry, fmt.Errorf("bridge log %s: %w", id, ErrBridgeLogNotFound)
	}
	return entry, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(r rowScanner) (models.LogEntry, error) {
	var raw string
	var entry models.LogEntry
	if err := r.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("scanning bridge log row: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return entry, fmt.Errorf("decoding bridge log row: %w", err)
	}
	return entry, nil
}

// MarkInterruptedBridgeLogs finalises entries left pending by a previous
// process, which can no longer complete.
func MarkInterruptedBridgeLogs() (int64, error) {
	entries, _, err := ListBridgeLogs(models.LogFilters{})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		if !e.Pending {
			continue
		}
		e.Pending = false
		e.Stage = models.StageAborted
		e.StatusText = models.StatusTextAborted
		e.Error = "bridge restarted before the request finished"
		if err := UpdateBridgeLog(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
