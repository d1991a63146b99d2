package types

import (
	"errors"
	"strings"
	"time"
)

// Validation errors
var (
	ErrEmptyQuery         = errors.New("query text cannot be empty")
	ErrEmptySessionID     = errors.New("session id cannot be empty")
	ErrEmptyIdentifier    = errors.New("evidence identifier cannot be empty")
	ErrInvalidConfidence  = errors.New("confidence must be in [0,1]")
	ErrInvalidTurnBudget  = errors.New("max turns must be positive")
	ErrInvalidRetryBudget = errors.New("max retries cannot be negative")
)

// Role identifies the author of a completion-provider message.
type Role string

// Message is a single message sent to the completion provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is the completion provider's reply.
type Response struct {
	Content      string      `json:"content"`
	Model        string      `json:"model,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	TokensUsed   *TokenUsage `json:"tokens_used,omitempty"`
}

// TokenUsage holds token accounting for a single completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EntityMention is a candidate reference to a knowledge-graph entity
// extracted from query text. Mentions are never mutated after creation;
// repeated extraction produces new mentions.
type EntityMention struct {
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	Confidence float64  `json:"confidence"`
}

// NormalizedName returns the identity key used to deduplicate mentions:
// lowercase with collapsed internal whitespace.
func (m EntityMention) NormalizedName() string {
	return NormalizeName(m.Name)
}

// Validate checks that the mention is well formed.
func (m EntityMention) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("mention name cannot be empty")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// NormalizeName lowercases a name and collapses runs of whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// SourceType identifies what kind of graph element an evidence item came from.
type SourceType string

const (
	SourceTypeNode             SourceType = "node"
	SourceTypeRelationship     SourceType = "relationship"
	SourceTypeCommunitySummary SourceType = "community_summary"
)

// EvidenceItem is a retrieved graph element used to support an answer.
// RelevanceScore only orders items within the retrieval call that produced
// them; scores from calls with different query embeddings are not comparable.
type EvidenceItem struct {
	SourceType     SourceType     `json:"source_type"`
	Identifier     string         `json:"identifier"`
	Payload        map[string]any `json:"payload,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
}

// EvidenceID builds the identifier for an evidence item. The source type
// prefix keeps node, relationship, and community ids from colliding.
func EvidenceID(sourceType SourceType, storeID string) string {
	return string(sourceType) + ":" + storeID
}

// Answer is the final result of a successful session. Every cited id refers
// to an evidence item accumulated in the session, in retrieval order.
type Answer struct {
	Text             string   `json:"text"`
	CitedEvidenceIDs []string `json:"cited_evidence_ids"`
	LowConfidence    bool     `json:"low_confidence,omitempty"`
}

// FailureKind enumerates the ways a session can fail or terminate early.
type FailureKind string

const (
	FailureExtractionUnavailable FailureKind = "extraction_unavailable"
	FailureExtractionMalformed   FailureKind = "extraction_malformed"
	FailureGraphUnavailable      FailureKind = "graph_unavailable"
	FailureGraphQueryInvalid     FailureKind = "graph_query_invalid"
	FailureSessionAborted        FailureKind = "session_aborted"
)

// FailureReport describes a failed session to the caller. A failed session
// never surfaces a partial answer.
type FailureReport struct {
	Kind      FailureKind  `json:"kind"`
	LastState SessionState `json:"last_state"`
	TurnCount int          `json:"turn_count"`
}

// SessionState is a state of the orchestration state machine.
type SessionState string

const (
	StateInit               SessionState = "init"
	StateExtractingEntities SessionState = "extracting_entities"
	StateQueryingGraph      SessionState = "querying_graph"
	StateEvaluating         SessionState = "evaluating"
	StateSynthesizing       SessionState = "synthesizing"
	StateAnswered           SessionState = "answered"
	StateFailed             SessionState = "failed"
	StateAborted            SessionState = "aborted"
)

// Terminal reports whether the state machine stops at this state.
func (s SessionState) Terminal() bool {
	return s == StateAnswered || s == StateFailed || s == StateAborted
}

// SessionStatus is the terminal outcome of a session.
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusAnswered SessionStatus = "answered"
	StatusFailed   SessionStatus = "failed"
	StatusAborted  SessionStatus = "aborted"
)

// Transition is one audited step of the state machine, recorded with enough
// context to replay a session without re-invoking external collaborators.
type Transition struct {
	SessionID string       `json:"session_id"`
	From      SessionState `json:"from"`
	Trigger   string       `json:"trigger"`
	To        SessionState `json:"to"`
	Turn      int          `json:"turn"`
	At        time.Time    `json:"at"`
}

// SessionConfig holds the tunables for one session. It is passed explicitly
// at session creation and immutable for the session's lifetime; there is no
// process-wide mutable configuration.
type SessionConfig struct {
	// SufficiencyThreshold is the minimum relevance score at least one
	// evidence item must reach before retrieval can stop.
	SufficiencyThreshold float64
	// ConfidenceThreshold marks which mentions must be covered by evidence.
	ConfidenceThreshold float64
	// MaxTurns bounds the refinement loop.
	MaxTurns int
	// PerCallTimeout applies to each individual agent invocation.
	PerCallTimeout time.Duration
	// MaxRetries bounds retries of transient agent failures.
	MaxRetries int
	// RetryBackoff is the initial backoff delay, doubled per attempt.
	RetryBackoff time.Duration
	// EvidenceLimit caps items requested per retrieval call.
	EvidenceLimit int
}

// WithDefaults returns a copy of the config with default values applied.
func (c *SessionConfig) WithDefaults() *SessionConfig {
	result := SessionConfig{}
	if c != nil {
		result = *c
	}
	if result.SufficiencyThreshold == 0 {
		result.SufficiencyThreshold = 0.6
	}
	if result.ConfidenceThreshold == 0 {
		result.ConfidenceThreshold = 0.5
	}
	if result.MaxTurns == 0 {
		result.MaxTurns = 3
	}
	if result.PerCallTimeout == 0 {
		result.PerCallTimeout = 30 * time.Second
	}
	if result.MaxRetries == 0 {
		result.MaxRetries = 2
	}
	if result.RetryBackoff == 0 {
		result.RetryBackoff = 500 * time.Millisecond
	}
	if result.EvidenceLimit == 0 {
		result.EvidenceLimit = 20
	}
	return &result
}

// Validate checks if the SessionConfig has valid values.
func (c *SessionConfig) Validate() error {
	if c.MaxTurns <= 0 {
		return ErrInvalidTurnBudget
	}
	if c.MaxRetries < 0 {
		return ErrInvalidRetryBudget
	}
	if c.SufficiencyThreshold < 0 || c.SufficiencyThreshold > 1 {
		return errors.New("sufficiency threshold must be in [0,1]")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.New("confidence threshold must be in [0,1]")
	}
	return nil
}

// Session is the unit of orchestration work for one query. It is created
// when a query is submitted, mutated only by the orchestrator, and archived
// once its status becomes terminal.
type Session struct {
	ID     string
	Query  string
	Config *SessionConfig

	// Mentions accumulate deduplicated by normalized name, insertion ordered.
	Mentions []EntityMention
	// Evidence accumulates in retrieval order, deduplicated by identifier.
	// Retrieval order is the citation order of the final answer.
	Evidence []EvidenceItem
	// Covered tracks normalized mention names resolved by graph evidence.
	Covered map[string]bool

	Turn      int
	State     SessionState
	Status    SessionStatus
	CreatedAt time.Time

	mentionIndex  map[string]int
	evidenceIndex map[string]bool
}

// NewSession creates a pending session for one query.
func NewSession(id, query string, config *SessionConfig) *Session {
	return &Session{
		ID:            id,
		Query:         query,
		Config:        config.WithDefaults(),
		Covered:       make(map[string]bool),
		State:         StateInit,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
		mentionIndex:  make(map[string]int),
		evidenceIndex: make(map[string]bool),
	}
}

// AddMentions merges new mentions into the session, deduplicating by
// normalized name. A duplicate keeps the higher confidence and the union of
// aliases; existing mention values are otherwise never edited.
func (s *Session) AddMentions(mentions []EntityMention) {
	for _, m := range mentions {
		key := m.NormalizedName()
		if key == "" {
			continue
		}
		idx, seen := s.mentionIndex[key]
		if !seen {
			s.mentionIndex[key] = len(s.Mentions)
			s.Mentions = append(s.Mentions, m)
			continue
		}
		existing := s.Mentions[idx]
		merged := EntityMention{
			Name:       existing.Name,
			Aliases:    mergeAliases(existing.Aliases, m.Aliases, m.Name),
			Confidence: existing.Confidence,
		}
		if m.Confidence > merged.Confidence {
			merged.Confidence = m.Confidence
		}
		s.Mentions[idx] = merged
	}
}

// AddEvidence appends evidence preserving retrieval order. Items already
// present by identifier are skipped: first retrieval wins citation placement.
func (s *Session) AddEvidence(items []EvidenceItem) {
	for _, item := range items {
		if item.Identifier == "" || s.evidenceIndex[item.Identifier] {
			continue
		}
		s.evidenceIndex[item.Identifier] = true
		s.Evidence = append(s.Evidence, item)
	}
}

// MarkCovered records that evidence resolved the given normalized names.
func (s *Session) MarkCovered(normalizedNames []string) {
	for _, name := range normalizedNames {
		if name != "" {
			s.Covered[name] = true
		}
	}
}

// HighConfidenceMentions returns mentions at or above the confidence
// threshold, in insertion order.
func (s *Session) HighConfidenceMentions() []EntityMention {
	var out []EntityMention
	for _, m := range s.Mentions {
		if m.Confidence >= s.Config.ConfidenceThreshold {
			out = append(out, m)
		}
	}
	return out
}

// EvidenceIDs returns accumulated evidence identifiers in retrieval order.
func (s *Session) EvidenceIDs() []string {
	ids := make([]string, 0, len(s.Evidence))
	for _, item := range s.Evidence {
		ids = append(ids, item.Identifier)
	}
	return ids
}

// HasEvidence reports whether the identifier exists in the session.
func (s *Session) HasEvidence(identifier string) bool {
	return s.evidenceIndex[identifier]
}

func mergeAliases(existing, extra []string, name string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(extra))
	for _, a := range existing {
		key := NormalizeName(a)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	nameKey := NormalizeName(name)
	for _, a := range extra {
		key := NormalizeName(a)
		if key == "" || key == nameKey || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
