package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ExportCSV writes matching records as a flat CSV for compliance tooling
// and returns the output path.
func ExportCSV(destination, outputFile string, filter Filter) (string, error) {
	records, err := Query(destination, filter)
	if err != nil {
		return "", err
	}
	if outputFile == "" {
		outputFile = fmt.Sprintf("audit_export_%s.csv", time.Now().UTC().Format("20060102T150405Z"))
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return "", fmt.Errorf("audit: creating export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"timestamp", "event_type", "user_id", "conversation_id", "request_id",
		"prompt", "response", "guardrail_name", "decision", "reason",
		"confidence", "rule_triggered", "model_used", "message",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, r := range records {
		confidence := ""
		if r.Confidence != nil {
			confidence = strconv.FormatFloat(*r.Confidence, 'f', -1, 64)
		}
		row := []string{
			r.Timestamp, string(r.EventType), r.UserID, r.ConversationID, r.RequestID,
			r.Prompt, r.Response, r.GuardrailName, r.Decision, r.Reason,
			confidence, r.RuleTriggered, r.ModelUsed, r.Message,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outputFile, nil
}

// exportEnvelope wraps exported records with provenance so a compliance
// reviewer can tell what was asked for and when.
type exportEnvelope struct {
	ExportedAt string    `json:"exported_at"`
	Filters    filterDoc `json:"filters"`
	Count      int       `json:"count"`
	Records    []*Record `json:"records"`
}

type filterDoc struct {
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	LastHour       bool   `json:"last_hour,omitempty"`
}

// ExportJSON writes matching records plus an envelope and returns the
// output path.
func ExportJSON(destination, outputFile string, filter Filter) (string, error) {
	records, err := Query(destination, filter)
	if err != nil {
		return "", err
	}
	if outputFile == "" {
		outputFile = fmt.Sprintf("audit_export_%s.json", time.Now().UTC().Format("20060102T150405Z"))
	}

	envelope := exportEnvelope{
		ExportedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Filters: filterDoc{
			UserID:         filter.UserID,
			ConversationID: filter.ConversationID,
			EventType:      string(filter.EventType),
			LastHour:       filter.LastHour,
		},
		Count:   len(records),
		Records: records,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return "", fmt.Errorf("audit: writing export: %w", err)
	}
	return outputFile, nil
}
