package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionConfig_WithDefaults(t *testing.T) {
	cfg := (&SessionConfig{}).WithDefaults()

	assert.Equal(t, 0.6, cfg.SufficiencyThreshold)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.MaxTurns)
	assert.Equal(t, 30*time.Second, cfg.PerCallTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 20, cfg.EvidenceLimit)
}

func TestSessionConfig_WithDefaultsKeepsOverrides(t *testing.T) {
	cfg := (&SessionConfig{MaxTurns: 5, SufficiencyThreshold: 0.8}).WithDefaults()

	assert.Equal(t, 5, cfg.MaxTurns)
	assert.Equal(t, 0.8, cfg.SufficiencyThreshold)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
}

func TestSessionConfig_WithDefaultsNilReceiver(t *testing.T) {
	var cfg *SessionConfig
	defaulted := cfg.WithDefaults()

	require.NotNil(t, defaulted)
	assert.Equal(t, 3, defaulted.MaxTurns)
}

func TestSessionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SessionConfig
		wantErr error
	}{
		{"valid", *(&SessionConfig{}).WithDefaults(), nil},
		{"zero turns", SessionConfig{MaxTurns: 0}, ErrInvalidTurnBudget},
		{"negative retries", SessionConfig{MaxTurns: 1, MaxRetries: -1}, ErrInvalidRetryBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestEntityMention_NormalizedName(t *testing.T) {
	m := EntityMention{Name: "  White   Rabbit "}
	assert.Equal(t, "white rabbit", m.NormalizedName())
}

func TestSession_AddMentionsDeduplicates(t *testing.T) {
	sess := NewSession("s1", "who is the white rabbit?", nil)

	sess.AddMentions([]EntityMention{
		{Name: "White Rabbit", Confidence: 0.7},
		{Name: "Alice", Aliases: []string{"the girl"}, Confidence: 0.9},
	})
	sess.AddMentions([]EntityMention{
		{Name: "white rabbit", Aliases: []string{"Rabbit"}, Confidence: 0.95},
		{Name: "Alice", Confidence: 0.4},
	})

	require.Len(t, sess.Mentions, 2)

	rabbit := sess.Mentions[0]
	assert.Equal(t, "White Rabbit", rabbit.Name)
	assert.Equal(t, 0.95, rabbit.Confidence)
	assert.Contains(t, rabbit.Aliases, "Rabbit")

	alice := sess.Mentions[1]
	assert.Equal(t, 0.9, alice.Confidence, "lower confidence duplicate must not downgrade")
	assert.Contains(t, alice.Aliases, "the girl")
}

func TestSession_AddEvidenceKeepsRetrievalOrder(t *testing.T) {
	sess := NewSession("s1", "q", nil)

	sess.AddEvidence([]EvidenceItem{
		{SourceType: SourceTypeNode, Identifier: "node:b", RelevanceScore: 0.2},
		{SourceType: SourceTypeNode, Identifier: "node:a", RelevanceScore: 0.9},
	})
	sess.AddEvidence([]EvidenceItem{
		{SourceType: SourceTypeNode, Identifier: "node:b", RelevanceScore: 0.99}, // duplicate
		{SourceType: SourceTypeRelationship, Identifier: "relationship:r1", RelevanceScore: 0.5},
	})

	assert.Equal(t, []string{"node:b", "node:a", "relationship:r1"}, sess.EvidenceIDs())
	// First retrieval wins, score is not overwritten by the duplicate
	assert.Equal(t, 0.2, sess.Evidence[0].RelevanceScore)
	assert.True(t, sess.HasEvidence("node:a"))
	assert.False(t, sess.HasEvidence("node:zzz"))
}

func TestSession_HighConfidenceMentions(t *testing.T) {
	sess := NewSession("s1", "q", &SessionConfig{ConfidenceThreshold: 0.5})
	sess.AddMentions([]EntityMention{
		{Name: "Alice", Confidence: 0.9},
		{Name: "somewhere", Confidence: 0.2},
		{Name: "White Rabbit", Confidence: 0.5},
	})

	high := sess.HighConfidenceMentions()
	require.Len(t, high, 2)
	assert.Equal(t, "Alice", high[0].Name)
	assert.Equal(t, "White Rabbit", high[1].Name)
}

func TestSession_MarkCovered(t *testing.T) {
	sess := NewSession("s1", "q", nil)
	sess.MarkCovered([]string{"alice", "", "white rabbit"})

	assert.True(t, sess.Covered["alice"])
	assert.True(t, sess.Covered["white rabbit"])
	assert.Len(t, sess.Covered, 2)
}

func TestEvidenceID(t *testing.T) {
	assert.Equal(t, "node:e42", EvidenceID(SourceTypeNode, "e42"))
	assert.Equal(t, "community_summary:c7", EvidenceID(SourceTypeCommunitySummary, "c7"))
}

func TestSessionState_Terminal(t *testing.T) {
	assert.True(t, StateAnswered.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateEvaluating.Terminal())
	assert.False(t, StateInit.Terminal())
}
