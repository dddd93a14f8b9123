// Package conversation holds the in-memory multi-turn model shared by the
// pipeline and its callers. A Conversation is an ordered log of turns
// between two participants with its own sliding-window rate limit. All
// mutation is serialized by a single mutex; readers get snapshots.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/logger"
)

// ParticipantType classifies a conversation participant.
type ParticipantType string

const (
	Human   ParticipantType = "human"
	AIModel ParticipantType = "ai_model"
	Bot     ParticipantType = "bot"
	Agent   ParticipantType = "agent"
)

// Recognized rate limit windows.
const (
	TurnsPerMinute = "turns_per_minute"
	TurnsPerHour   = "turns_per_hour"
)

// ErrNoIncompleteTurn is returned by AddResponse when there is no prompt
// waiting for a response.
var ErrNoIncompleteTurn = errors.New("no incomplete turn to complete")

// ErrRateLimited is returned by CheckRateLimitAction with ActionRaise.
var ErrRateLimited = errors.New("conversation rate limit exceeded")

// Action controls how CheckRateLimitAction reacts to an exceeded limit.
type Action string

const (
	ActionRaise  Action = "raise"
	ActionWarn   Action = "warn"
	ActionLog    Action = "log"
	ActionSilent Action = "silent"
)

// Turn is one prompt, possibly with a response. A turn is complete once
// Response is set; an incomplete turn can be completed at most once.
type Turn struct {
	Timestamp time.Time      `json:"timestamp"`
	Speaker   string         `json:"speaker"`
	Listener  string         `json:"listener"`
	Prompt    string         `json:"prompt"`
	Response  *string        `json:"response,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Complete reports whether the turn has a response.
func (t *Turn) Complete() bool {
	return t.Response != nil
}

func (t *Turn) clone() Turn {
	c := *t
	if t.Response != nil {
		r := *t.Response
		c.Response = &r
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Conversation is exclusively owned by its caller. The pipeline borrows it
// per call to read history and append turns but keeps no reference after
// returning.
type Conversation struct {
	mu sync.Mutex

	id            string
	initiator     string
	responder     string
	initiatorType ParticipantType
	responderType ParticipantType
	modelInfo     map[string]any
	metadata      map[string]any
	createdAt     time.Time
	lastActivity  time.Time

	turns []*Turn

	rateLimit      map[string]int
	rateLimitTurns []time.Time
}

// Option configures a new Conversation.
type Option func(*Conversation)

func WithID(id string) Option {
	return func(c *Conversation) { c.id = id }
}

func WithRateLimit(limits map[string]int) Option {
	return func(c *Conversation) { c.rateLimit = copyLimits(limits) }
}

func WithModelInfo(info map[string]any) Option {
	return func(c *Conversation) { c.modelInfo = info }
}

func WithMetadata(meta map[string]any) Option {
	return func(c *Conversation) { c.metadata = meta }
}

// New builds a conversation between two typed participants.
func New(initiator, responder string, initiatorType, responderType ParticipantType, opts ...Option) *Conversation {
	now := time.Now()
	c := &Conversation{
		id:            uuid.NewString(),
		initiator:     initiator,
		responder:     responder,
		initiatorType: initiatorType,
		responderType: responderType,
		modelInfo:     map[string]any{},
		metadata:      map[string]any{},
		createdAt:     now,
		lastActivity:  now,
		rateLimit:     map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HumanAI is the common pairing: a person talking to a model.
func HumanAI(initiator, responder string, opts ...Option) *Conversation {
	return New(initiator, responder, Human, AIModel, opts...)
}

func BotBot(initiator, responder string, opts ...Option) *Conversation {
	return New(initiator, responder, Bot, Bot, opts...)
}

func AgentAgent(initiator, responder string, opts ...Option) *Conversation {
	return New(initiator, responder, Agent, Agent, opts...)
}

func HumanHuman(initiator, responder string, opts ...Option) *Conversation {
	return New(initiator, responder, Human, Human, opts...)
}

func (c *Conversation) ID() string                     { return c.id }
func (c *Conversation) Initiator() string              { return c.initiator }
func (c *Conversation) Responder() string              { return c.responder }
func (c *Conversation) InitiatorType() ParticipantType { return c.initiatorType }
func (c *Conversation) ResponderType() ParticipantType { return c.responderType }

func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

func (c *Conversation) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Conversation) ModelInfo() map[string]any { return c.modelInfo }
func (c *Conversation) Metadata() map[string]any  { return c.metadata }

// AddPrompt appends a new incomplete turn and records the instant against
// the conversation rate limit.
func (c *Conversation) AddPrompt(text string, metadata map[string]any) *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	turn := &Turn{
		Timestamp: now,
		Speaker:   c.initiator,
		Listener:  c.responder,
		Prompt:    text,
		Metadata:  metadata,
	}
	c.turns = append(c.turns, turn)
	c.rateLimitTurns = append(c.rateLimitTurns, now)
	c.lastActivity = now
	c.evictLocked(now)
	return turn
}

// AddResponse completes the most recent incomplete turn. It fails when
// every turn already has a response.
func (c *Conversation) AddResponse(text string) (*Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.turns) - 1; i >= 0; i-- {
		if !c.turns[i].Complete() {
			r := text
			c.turns[i].Response = &r
			c.lastActivity = time.Now()
			return c.turns[i], nil
		}
	}
	return nil, ErrNoIncompleteTurn
}

// AddExchange appends a complete turn atomically.
func (c *Conversation) AddExchange(prompt, response string, metadata map[string]any) *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	r := response
	turn := &Turn{
		Timestamp: now,
		Speaker:   c.initiator,
		Listener:  c.responder,
		Prompt:    prompt,
		Response:  &r,
		Metadata:  metadata,
	}
	c.turns = append(c.turns, turn)
	c.rateLimitTurns = append(c.rateLimitTurns, now)
	c.lastActivity = now
	c.evictLocked(now)
	return turn
}

// AddTurn is the legacy entry point: with a response it behaves like
// AddExchange, without one like AddPrompt.
func (c *Conversation) AddTurn(prompt string, response *string) *Turn {
	if response != nil {
		return c.AddExchange(prompt, *response, nil)
	}
	return c.AddPrompt(prompt, nil)
}

// CompleteTurn completes the most recent incomplete turn with the given
// response and metadata, appending a new complete turn when none is
// waiting. Used by the pipeline on the output stage.
func (c *Conversation) CompleteTurn(response string, metadata map[string]any) *Turn {
	c.mu.Lock()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if !c.turns[i].Complete() {
			r := response
			c.turns[i].Response = &r
			if metadata != nil {
				if c.turns[i].Metadata == nil {
					c.turns[i].Metadata = map[string]any{}
				}
				for k, v := range metadata {
					c.turns[i].Metadata[k] = v
				}
			}
			c.lastActivity = time.Now()
			turn := c.turns[i]
			c.mu.Unlock()
			return turn
		}
	}
	c.mu.Unlock()
	return c.AddExchange("", response, metadata)
}

// History returns a defensive copy of the last limit turns, or all turns
// when limit <= 0.
func (c *Conversation) History(limit int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(c.turns) {
		start = len(c.turns) - limit
	}
	out := make([]Turn, 0, len(c.turns)-start)
	for _, t := range c.turns[start:] {
		out = append(out, t.clone())
	}
	return out
}

func (c *Conversation) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func (c *Conversation) CompleteTurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.turns {
		if t.Complete() {
			n++
		}
	}
	return n
}

func (c *Conversation) IncompleteTurns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Turn
	for _, t := range c.turns {
		if !t.Complete() {
			out = append(out, t.clone())
		}
	}
	return out
}

func (c *Conversation) CompleteTurns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Turn
	for _, t := range c.turns {
		if t.Complete() {
			out = append(out, t.clone())
		}
	}
	return out
}

// CheckRateLimit reports whether any configured window is currently
// exceeded. It does not consume quota; recording happens in AddPrompt and
// AddExchange.
func (c *Conversation) CheckRateLimit() bool {
	exceeded, _ := c.CheckRateLimitAction(ActionSilent)
	return exceeded
}

// CheckRateLimitAction checks the limit and reacts per action: raise
// returns ErrRateLimited, warn and log emit log lines, silent does neither.
func (c *Conversation) CheckRateLimitAction(action Action) (bool, error) {
	c.mu.Lock()
	exceeded := c.exceededLocked(time.Now())
	c.mu.Unlock()

	if !exceeded {
		return false, nil
	}

	switch action {
	case ActionRaise:
		return true, fmt.Errorf("%w: conversation %s", ErrRateLimited, c.id)
	case ActionWarn:
		logger.Warn("conversation rate limit exceeded",
			zap.String("conversation_id", c.id))
	case ActionLog:
		logger.Info("conversation rate limit exceeded",
			zap.String("conversation_id", c.id))
	}
	return true, nil
}

func (c *Conversation) exceededLocked(now time.Time) bool {
	for window, limit := range c.rateLimit {
		if limit <= 0 {
			// Zero or negative limits always trip, useful for fixtures.
			return true
		}
		d, ok := windowDuration(window)
		if !ok {
			continue
		}
		count := 0
		for _, ts := range c.rateLimitTurns {
			if now.Sub(ts) < d {
				count++
			}
		}
		if count > limit {
			return true
		}
	}
	return false
}

// SetRateLimit replaces the rate limit configuration.
func (c *Conversation) SetRateLimit(limits map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimit = copyLimits(limits)
}

// RateLimit returns a copy of the rate limit configuration.
func (c *Conversation) RateLimit() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyLimits(c.rateLimit)
}

// ResetRateLimit clears the recorded turn instants.
func (c *Conversation) ResetRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitTurns = nil
}

// evictLocked truncates rateLimitTurns to the longest configured window so
// long conversations stay bounded.
func (c *Conversation) evictLocked(now time.Time) {
	longest := time.Minute
	for window := range c.rateLimit {
		if d, ok := windowDuration(window); ok && d > longest {
			longest = d
		}
	}
	cutoff := now.Add(-longest)
	i := 0
	for ; i < len(c.rateLimitTurns); i++ {
		if c.rateLimitTurns[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		c.rateLimitTurns = append([]time.Time(nil), c.rateLimitTurns[i:]...)
	}
}

func windowDuration(name string) (time.Duration, bool) {
	switch name {
	case TurnsPerMinute:
		return time.Minute, true
	case TurnsPerHour:
		return time.Hour, true
	default:
		return 0, false
	}
}

func copyLimits(limits map[string]int) map[string]int {
	out := make(map[string]int, len(limits))
	for k, v := range limits {
		out[k] = v
	}
	return out
}

// snapshot is the JSON wire form. MarshalJSON and UnmarshalJSON round-trip
// every field including turn metadata and the rate limit state.
type snapshot struct {
	ConversationID string          `json:"conversation_id"`
	Initiator      string          `json:"initiator"`
	Responder      string          `json:"responder"`
	InitiatorType  ParticipantType `json:"initiator_type"`
	ResponderType  ParticipantType `json:"responder_type"`
	ModelInfo      map[string]any  `json:"model_info,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivity   time.Time       `json:"last_activity"`
	Turns          []*Turn         `json:"turns"`
	RateLimit      map[string]int  `json:"rate_limit,omitempty"`
	RateLimitTurns []time.Time     `json:"rate_limit_turns,omitempty"`
}

func (c *Conversation) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(snapshot{
		ConversationID: c.id,
		Initiator:      c.initiator,
		Responder:      c.responder,
		InitiatorType:  c.initiatorType,
		ResponderType:  c.responderType,
		ModelInfo:      c.modelInfo,
		Metadata:       c.metadata,
		CreatedAt:      c.createdAt,
		LastActivity:   c.lastActivity,
		Turns:          c.turns,
		RateLimit:      c.rateLimit,
		RateLimitTurns: c.rateLimitTurns,
	})
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = s.ConversationID
	c.initiator = s.Initiator
	c.responder = s.Responder
	c.initiatorType = s.InitiatorType
	c.responderType = s.ResponderType
	c.modelInfo = s.ModelInfo
	c.metadata = s.Metadata
	c.createdAt = s.CreatedAt
	c.lastActivity = s.LastActivity
	c.turns = s.Turns
	c.rateLimit = s.RateLimit
	if c.rateLimit == nil {
		c.rateLimit = map[string]int{}
	}
	c.rateLimitTurns = s.RateLimitTurns
	return nil
}
