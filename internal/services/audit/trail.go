// Package audit is the append-only security event trail, independent of
// developer logging. Producers enqueue records onto a bounded channel; a
// single background writer drains it in batches and emits one JSON object
// per line. Records are ordered by enqueue sequence; timestamps are taken
// at enqueue time.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// EventType tags an audit record.
type EventType string

const (
	EventTrailEnabled      EventType = "audit_trail_enabled"
	EventUserPrompt        EventType = "user_prompt"
	EventLLMResponse       EventType = "llm_response"
	EventGuardrailDecision EventType = "guardrail_decision"
	EventError             EventType = "error"
)

// StdoutDestination routes records to standard output instead of a file.
const StdoutDestination = "stdout"

// Record is one audit line. Every record serializes to a single JSON
// object on one line.
type Record struct {
	Timestamp string    `json:"timestamp"`
	EventType EventType `json:"event_type"`

	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`

	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`

	GuardrailName string   `json:"guardrail_name,omitempty"`
	Decision      string   `json:"decision,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	RuleTriggered string   `json:"rule_triggered,omitempty"`

	ModelUsed        string   `json:"model_used,omitempty"`
	ProcessingTimeMS *float64 `json:"processing_time_ms,omitempty"`

	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`

	// Set on the audit_trail_enabled event.
	Destination   string   `json:"destination,omitempty"`
	RedactPII     *bool    `json:"redact_pii,omitempty"`
	BufferSize    *int     `json:"buffer_size,omitempty"`
	FlushInterval *float64 `json:"flush_interval,omitempty"`
}

// Options configure Enable. Zero values pick smart defaults: stdout and no
// redaction in development, ./audit.log with redaction when STINGER_ENV is
// production.
type Options struct {
	Destination   string
	RedactPII     bool
	BufferSize    int
	FlushInterval time.Duration
}

// Stats expose the trail's counters.
type Stats struct {
	Queued    int64 `json:"queued"`
	Written   int64 `json:"written"`
	Dropped   int64 `json:"dropped"`
	QueueSize int   `json:"queue_size"`
}

// Trail is an audit sink. The process-wide instance comes from Default();
// tests construct isolated trails with NewTrail.
type Trail struct {
	mu      sync.Mutex
	enabled bool
	opts    Options

	queue chan *Record
	done  chan struct{}
	wg    sync.WaitGroup

	// writeMu serializes the background writer and the synchronous
	// fallback path onto the same file handle.
	writeMu  sync.Mutex
	out      *os.File
	closeOut bool

	queued  atomic.Int64
	written atomic.Int64
	dropped atomic.Int64
}

var (
	defaultOnce  sync.Once
	defaultTrail *Trail
)

// Default returns the process-wide trail.
func Default() *Trail {
	defaultOnce.Do(func() {
		defaultTrail = NewTrail()
	})
	return defaultTrail
}

// NewTrail returns a disabled trail.
func NewTrail() *Trail {
	return &Trail{}
}

func production() bool {
	return os.Getenv("STINGER_ENV") == "production"
}

// Enable starts the background writer. Calling Enable on an enabled trail
// is a no-op.
func (t *Trail) Enable(opts Options) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}

	if opts.Destination == "" {
		if production() {
			opts.Destination = "./audit.log"
			opts.RedactPII = true
		} else {
			opts.Destination = StdoutDestination
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	if opts.Destination == StdoutDestination {
		t.out = os.Stdout
		t.closeOut = false
	} else {
		if dir := filepath.Dir(opts.Destination); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("audit: creating destination directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.Destination, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("audit: opening destination: %w", err)
		}
		t.out = f
		t.closeOut = true
	}

	t.opts = opts
	t.queue = make(chan *Record, opts.BufferSize)
	t.done = make(chan struct{})
	t.enabled = true

	t.wg.Add(1)
	go t.writer(t.queue, t.done, opts.FlushInterval)

	redact := opts.RedactPII
	buffer := opts.BufferSize
	interval := opts.FlushInterval.Seconds()
	t.enqueueLocked(&Record{
		Timestamp:     isoNow(),
		EventType:     EventTrailEnabled,
		Destination:   opts.Destination,
		RedactPII:     &redact,
		BufferSize:    &buffer,
		FlushInterval: &interval,
	})
	return nil
}

// Disable flushes pending records, joins the writer and clears state. In a
// production environment it refuses, so audit coverage cannot be dropped
// by accident.
func (t *Trail) Disable() error {
	if production() {
		return fmt.Errorf("audit: refusing to disable the audit trail in production")
	}

	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return nil
	}
	t.enabled = false
	done := t.done
	t.mu.Unlock()

	close(done)
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeOut && t.out != nil {
		_ = t.out.Close()
	}
	t.out = nil
	t.queue = nil
	t.done = nil
	return nil
}

// IsEnabled reports whether the trail is accepting records.
func (t *Trail) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// GetStats returns the counters.
func (t *Trail) GetStats() Stats {
	t.mu.Lock()
	queueSize := 0
	if t.queue != nil {
		queueSize = len(t.queue)
	}
	t.mu.Unlock()
	return Stats{
		Queued:    t.queued.Load(),
		Written:   t.written.Load(),
		Dropped:   t.dropped.Load(),
		QueueSize: queueSize,
	}
}

// Meta carries the optional identifiers shared by prompt/response/decision
// events.
type Meta struct {
	UserID         string
	ConversationID string
	RequestID      string
}

// LogPrompt records a user prompt. No-op when the trail is disabled.
func (t *Trail) LogPrompt(prompt string, meta Meta) {
	t.log(func(redact bool) *Record {
		if redact {
			prompt = RedactPII(prompt)
		}
		return &Record{
			EventType:      EventUserPrompt,
			Prompt:         prompt,
			UserID:         meta.UserID,
			ConversationID: meta.ConversationID,
			RequestID:      meta.RequestID,
		}
	})
}

// LogResponse records a model response.
func (t *Trail) LogResponse(response string, meta Meta, modelUsed string, processingTimeMS float64) {
	t.log(func(redact bool) *Record {
		if redact {
			response = RedactPII(response)
		}
		r := &Record{
			EventType:      EventLLMResponse,
			Response:       response,
			UserID:         meta.UserID,
			ConversationID: meta.ConversationID,
			RequestID:      meta.RequestID,
			ModelUsed:      modelUsed,
		}
		if processingTimeMS > 0 {
			r.ProcessingTimeMS = &processingTimeMS
		}
		return r
	})
}

// LogGuardrailDecision records one guardrail verdict.
func (t *Trail) LogGuardrailDecision(guardrailName, decision, reason string, confidence float64, ruleTriggered string, meta Meta) {
	t.log(func(bool) *Record {
		c := confidence
		return &Record{
			EventType:      EventGuardrailDecision,
			GuardrailName:  guardrailName,
			Decision:       decision,
			Reason:         reason,
			Confidence:     &c,
			RuleTriggered:  ruleTriggered,
			UserID:         meta.UserID,
			ConversationID: meta.ConversationID,
			RequestID:      meta.RequestID,
		}
	})
}

// LogError records an internal failure worth forensic attention.
func (t *Trail) LogError(message string, context map[string]any) {
	t.log(func(bool) *Record {
		return &Record{
			EventType: EventError,
			Message:   message,
			Context:   context,
		}
	})
}

func (t *Trail) log(build func(redact bool) *Record) {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	record := build(t.opts.RedactPII)
	record.Timestamp = isoNow()
	t.enqueueLocked(record)
	t.mu.Unlock()
}

// enqueueLocked attempts a non-blocking enqueue; when the queue is full the
// record is written synchronously so it is not lost, and dropped counts
// only records even the fallback could not write.
func (t *Trail) enqueueLocked(record *Record) {
	select {
	case t.queue <- record:
		t.queued.Add(1)
	default:
		if err := t.writeRecord(record); err != nil {
			t.dropped.Add(1)
			fmt.Fprintf(os.Stderr, "audit: dropped record: %v\n", err)
		}
	}
}

// writer drains the queue in batches and flushes on a timer. Holds no
// locks while blocked on the channel.
func (t *Trail) writer(queue chan *Record, done chan struct{}, flushInterval time.Duration) {
	defer t.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, 64)
	flush := func() {
		for _, r := range batch {
			if err := t.writeRecord(r); err != nil {
				t.dropped.Add(1)
				fmt.Fprintf(os.Stderr, "audit: write failed: %v\n", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-done:
			// Drain whatever is still queued, then stop.
			for {
				select {
				case r := <-queue:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		case r := <-queue:
			batch = append(batch, r)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (t *Trail) writeRecord(record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.out == nil {
		return fmt.Errorf("destination closed")
	}
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
