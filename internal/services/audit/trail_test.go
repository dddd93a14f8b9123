package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDestination(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "audit.log")
}

func readRecords(t *testing.T, destination string) []*Record {
	t.Helper()
	f, err := os.Open(destination)
	require.NoError(t, err)
	defer f.Close()

	var out []*Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r), "every line must be valid JSON")
		out = append(out, &r)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestTrailWritesOneJSONObjectPerLine(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	require.NoError(t, trail.Enable(Options{Destination: dest}))

	const prompts = 5
	for i := 0; i < prompts; i++ {
		trail.LogPrompt("hello", Meta{UserID: "u1", ConversationID: "c1"})
	}
	require.NoError(t, trail.Disable())

	records := readRecords(t, dest)
	require.Len(t, records, prompts+1)

	assert.Equal(t, EventTrailEnabled, records[0].EventType)
	for _, r := range records[1:] {
		assert.Equal(t, EventUserPrompt, r.EventType)
		assert.Equal(t, "u1", r.UserID)
		assert.NotEmpty(t, r.Timestamp)
		_, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		assert.NoError(t, err)
	}

	stats := trail.GetStats()
	assert.Equal(t, int64(prompts+1), stats.Queued)
	assert.Equal(t, int64(prompts+1), stats.Written)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestTrailFullQueueFallsBackToSyncWrites(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	// A one-slot queue saturates immediately, so most records take the
	// synchronous fallback while the writer drains the rest.
	require.NoError(t, trail.Enable(Options{
		Destination:   dest,
		BufferSize:    1,
		FlushInterval: time.Hour,
	}))

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				trail.LogPrompt(fmt.Sprintf("worker %d prompt %d", w, i), Meta{UserID: "u1"})
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, trail.Disable())

	records := readRecords(t, dest)
	require.Len(t, records, workers*perWorker+1)

	prompts := 0
	for _, r := range records {
		if r.EventType == EventUserPrompt {
			prompts++
		}
	}
	assert.Equal(t, workers*perWorker, prompts)

	stats := trail.GetStats()
	assert.Equal(t, int64(workers*perWorker+1), stats.Written)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestTrailRedactsPIIWhenEnabled(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	require.NoError(t, trail.Enable(Options{Destination: dest, RedactPII: true}))

	trail.LogPrompt("reach me at jane@example.com or 555-123-4567, SSN 123-45-6789", Meta{})
	trail.LogResponse("card 4111 1111 1111 1111 from 10.0.0.1", Meta{}, "", 3.2)
	require.NoError(t, trail.Disable())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[EMAIL_REDACTED]")
	assert.Contains(t, content, "[PHONE_REDACTED]")
	assert.Contains(t, content, "[SSN_REDACTED]")
	assert.Contains(t, content, "[CARD_REDACTED]")
	assert.Contains(t, content, "[IP_REDACTED]")

	assert.NotContains(t, content, "jane@example.com")
	assert.NotContains(t, content, "123-45-6789")
	assert.NotContains(t, content, "4111 1111 1111 1111")
}

func TestTrailDisabledIsNoOp(t *testing.T) {
	trail := NewTrail()
	trail.LogPrompt("ignored", Meta{})
	assert.False(t, trail.IsEnabled())
	assert.Equal(t, int64(0), trail.GetStats().Queued)
}

func TestTrailEnableIsIdempotent(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	require.NoError(t, trail.Enable(Options{Destination: dest}))
	require.NoError(t, trail.Enable(Options{Destination: "elsewhere.log"}))
	assert.True(t, trail.IsEnabled())
	require.NoError(t, trail.Disable())

	records := readRecords(t, dest)
	require.Len(t, records, 1)
	assert.Equal(t, EventTrailEnabled, records[0].EventType)
}

func TestTrailGuardrailDecisionAndError(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	require.NoError(t, trail.Enable(Options{Destination: dest}))

	trail.LogGuardrailDecision("pii_check", "block", "PII detected: ssn", 0.95, "ssn", Meta{RequestID: "req-1"})
	trail.LogError("backend down", map[string]any{"component": "redis"})
	require.NoError(t, trail.Disable())

	records := readRecords(t, dest)
	require.Len(t, records, 3)

	decision := records[1]
	assert.Equal(t, EventGuardrailDecision, decision.EventType)
	assert.Equal(t, "pii_check", decision.GuardrailName)
	assert.Equal(t, "block", decision.Decision)
	require.NotNil(t, decision.Confidence)
	assert.InDelta(t, 0.95, *decision.Confidence, 1e-9)
	assert.Equal(t, "ssn", decision.RuleTriggered)

	errRecord := records[2]
	assert.Equal(t, EventError, errRecord.EventType)
	assert.Equal(t, "backend down", errRecord.Message)
	assert.Equal(t, "redis", errRecord.Context["component"])
}

func TestQueryFilters(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	require.NoError(t, trail.Enable(Options{Destination: dest}))

	trail.LogPrompt("from alice", Meta{UserID: "alice", ConversationID: "c1"})
	trail.LogPrompt("from bob", Meta{UserID: "bob", ConversationID: "c2"})
	trail.LogResponse("answer", Meta{UserID: "alice", ConversationID: "c1"}, "", 0)
	require.NoError(t, trail.Disable())

	byUser, err := Query(dest, Filter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byType, err := Query(dest, Filter{EventType: EventUserPrompt})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byConv, err := Query(dest, Filter{ConversationID: "c2"})
	require.NoError(t, err)
	require.Len(t, byConv, 1)
	assert.Equal(t, "from bob", byConv[0].Prompt)

	recent, err := Query(dest, Filter{LastHour: true})
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

func TestQuerySkipsMalformedLines(t *testing.T) {
	dest := tempDestination(t)
	content := `{"timestamp":"2026-01-01T00:00:00Z","event_type":"user_prompt","prompt":"ok"}
not json at all
{"timestamp":"2026-01-01T00:00:01Z","event_type":"user_prompt","prompt":"also ok"}
`
	require.NoError(t, os.WriteFile(dest, []byte(content), 0o644))

	records, err := Query(dest, Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestExportJSONAndCSV(t *testing.T) {
	dest := tempDestination(t)
	trail := NewTrail()
	require.NoError(t, trail.Enable(Options{Destination: dest}))
	trail.LogPrompt("export me", Meta{UserID: "alice"})
	require.NoError(t, trail.Disable())

	jsonOut := filepath.Join(t.TempDir(), "out.json")
	path, err := ExportJSON(dest, jsonOut, Filter{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, jsonOut, path)

	data, err := os.ReadFile(jsonOut)
	require.NoError(t, err)
	var envelope struct {
		Count   int       `json:"count"`
		Records []*Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, 1, envelope.Count)
	require.Len(t, envelope.Records, 1)
	assert.Equal(t, "export me", envelope.Records[0].Prompt)

	csvOut := filepath.Join(t.TempDir(), "out.csv")
	path, err = ExportCSV(dest, csvOut, Filter{})
	require.NoError(t, err)
	assert.Equal(t, csvOut, path)

	csvData, err := os.ReadFile(csvOut)
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "timestamp,event_type,user_id")
	assert.Contains(t, string(csvData), "export me")
}
