package integration_test

import (
	"database/sql"
	"encoding/json"
	"slices"
	"testing"

	_ "modernc.org/sqlite"
)

type auditEvent struct {
	Type       string
	IncidentID string
	Payload    json.RawMessage
}

// loadAuditEvents returns the workspace audit events in insertion order.
// An empty incidentID matches every incident.
func loadAuditEvents(t *testing.T, dbPath, incidentID string) []auditEvent {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query(`
		SELECT type, incident_id, payload_json FROM events
		WHERE ? = '' OR incident_id = ?
		ORDER BY id
	`, incidentID, incidentID)
	if err != nil {
		t.Fatalf("query audit events: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []auditEvent
	for rows.Next() {
		var ev auditEvent
		var payload string
		if err := rows.Scan(&ev.Type, &ev.IncidentID, &payload); err != nil {
			t.Fatalf("scan audit event: %v", err)
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate audit events: %v", err)
	}
	return out
}

func requireAuditEvents(t *testing.T, dbPath string, want []string) {
	t.Helper()
	seen := make(map[string]bool)
	for _, ev := range loadAuditEvents(t, dbPath, "") {
		seen[ev.Type] = true
	}
	for _, eventType := range want {
		if !seen[eventType] {
			t.Fatalf("missing audit event %s in %s", eventType, dbPath)
		}
	}
}

// phaseSequence lists the target phase of every recorded transition of
// incidentID.
func phaseSequence(t *testing.T, dbPath, incidentID string) []string {
	t.Helper()
	var phases []string
	for _, ev := range loadAuditEvents(t, dbPath, incidentID) {
		if ev.Type != "state_changed" {
			continue
		}
		var payload struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("decode state_changed payload: %v", err)
		}
		if payload.To != "" && payload.To != payload.From {
			phases = append(phases, payload.To)
		}
	}
	return phases
}

func requirePhaseSequence(t *testing.T, dbPath, incidentID string, want []string) {
	t.Helper()
	got := phaseSequence(t, dbPath, incidentID)
	if !slices.Equal(got, want) {
		t.Fatalf("phase sequence for %s:\n got  %v\n want %v", incidentID, got, want)
	}
}
