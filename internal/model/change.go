package model

import (
	"fmt"
	"strconv"
)

// Operation is the kind of row mutation reported by the upstream store.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeEvent reports that a row in an upstream table changed. Only the fact of
// the change is trusted; current values are always re-read from upstream.
// DeletedRow carries the row's last known columns for deletes, since the row
// itself can no longer be queried.
type ChangeEvent struct {
	Table      string         `json:"table"`
	Operation  Operation      `json:"operation"`
	RowID      string         `json:"row_id"`
	DeletedRow map[string]any `json:"deleted_row,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
}

func (e ChangeEvent) Validate() error {
	if e.Table == "" {
		return fmt.Errorf("change event: missing table")
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("change event: unknown operation %q", e.Operation)
	}
	if e.RowID == "" {
		return fmt.Errorf("change event: missing row id")
	}
	return nil
}

// SnapshotString returns a deleted-row column as a string. JSON numbers decode
// to float64, so integral floats are rendered without a fraction.
func (e ChangeEvent) SnapshotString(column string) (string, bool) {
	raw, ok := e.DeletedRow[column]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}
