// Package extractor implements the entity extractor agent. Given the user's
// query text it returns the candidate entity names and aliases mentioned or
// implied, by prompting the external completion provider and parsing its
// JSON output.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	"github.com/soundprediction/graphqa/pkg/nlp"
	"github.com/soundprediction/graphqa/pkg/types"
)

// Extraction failure kinds. Both are recoverable at the orchestrator level:
// unavailability is retried, malformed output escalates without retry.
var (
	// ErrExtractionUnavailable indicates the completion provider could not
	// be reached.
	ErrExtractionUnavailable = errors.New("extraction unavailable: completion provider unreachable")

	// ErrExtractionMalformed indicates the provider's output could not be
	// parsed into entity mentions.
	ErrExtractionMalformed = errors.New("extraction malformed: unparseable provider output")
)

const systemPrompt = `You identify knowledge-graph entities mentioned or implied in a question.
Respond with a JSON array only. Each element has the form
{"name": string, "aliases": [string], "confidence": number between 0 and 1}.
Return [] when the question names no entities. Do not add commentary.`

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Agent extracts entity mentions from query text.
type Agent struct {
	nlp    nlp.Client
	logger *slog.Logger
}

// New creates an extractor agent backed by the given completion client.
func New(nlpClient nlp.Client, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		nlp:    nlpClient,
		logger: logger,
	}
}

// Extract returns the entity mentions found in the request's query text.
// Empty input yields an empty result, not an error. The result never
// contains duplicate normalized names.
func (a *Agent) Extract(ctx context.Context, req types.ExtractionRequest) (*types.ExtractionResult, error) {
	if strings.TrimSpace(req.QueryText) == "" {
		return &types.ExtractionResult{}, nil
	}

	userPrompt := fmt.Sprintf("Question: %s", req.QueryText)
	if req.DisambiguationHint != "" {
		userPrompt += fmt.Sprintf("\n\nThe following references are ambiguous; distinguish them with more specific names or aliases: %s", req.DisambiguationHint)
	}

	resp, err := a.nlp.Chat(ctx, []types.Message{
		nlp.NewSystemMessage(systemPrompt),
		nlp.NewUserMessage(userPrompt),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
	}

	mentions, err := parseMentions(resp.Content)
	if err != nil {
		a.logger.Warn("entity extraction returned unparseable output",
			"error", err,
			"content_length", len(resp.Content),
		)
		return nil, fmt.Errorf("%w: %w", ErrExtractionMalformed, err)
	}

	return &types.ExtractionResult{Mentions: mentions}, nil
}

type mentionPayload struct {
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases"`
	Confidence float64  `json:"confidence"`
}

// parseMentions converts provider output into deduplicated mentions. The
// text is run through jsonrepair first since providers routinely wrap JSON
// in prose or code fences.
func parseMentions(content string) ([]types.EntityMention, error) {
	cleaned := strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))
	if cleaned == "" {
		return nil, fmt.Errorf("empty completion content")
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, fmt.Errorf("json repair failed: %w", err)
	}

	var payloads []mentionPayload
	if err := json.Unmarshal([]byte(repaired), &payloads); err != nil {
		// Some providers wrap the array in an object
		var wrapped struct {
			Entities []mentionPayload `json:"entities"`
			Mentions []mentionPayload `json:"mentions"`
		}
		if err2 := json.Unmarshal([]byte(repaired), &wrapped); err2 != nil {
			return nil, fmt.Errorf("unmarshal mentions: %w", err)
		}
		payloads = append(wrapped.Entities, wrapped.Mentions...)
	}

	seen := make(map[string]int)
	var mentions []types.EntityMention
	for _, p := range payloads {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		mention := types.EntityMention{
			Name:       name,
			Aliases:    cleanAliases(p.Aliases, name),
			Confidence: clampConfidence(p.Confidence),
		}
		key := mention.NormalizedName()
		if idx, dup := seen[key]; dup {
			if mention.Confidence > mentions[idx].Confidence {
				mentions[idx].Confidence = mention.Confidence
			}
			continue
		}
		seen[key] = len(mentions)
		mentions = append(mentions, mention)
	}

	return mentions, nil
}

func cleanAliases(aliases []string, name string) []string {
	nameKey := types.NormalizeName(name)
	seen := make(map[string]bool, len(aliases))
	var out []string
	for _, a := range aliases {
		trimmed := strings.TrimSpace(a)
		key := types.NormalizeName(trimmed)
		if key == "" || key == nameKey || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
