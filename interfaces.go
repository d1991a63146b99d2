package graphqa

import (
	"context"

	"github.com/soundprediction/graphqa/pkg/types"
)

// This file defines focused interfaces that follow the Interface Segregation Principle.
// The main GraphQA interface is composed from these smaller interfaces.
// Consumers should depend on the smallest interface that meets their needs.

// QuestionAnswerer provides the single query operation. Use this interface
// when you only need to submit questions, such as in HTTP handlers.
type QuestionAnswerer interface {
	// SubmitQuery runs one question through the full orchestration loop and
	// returns a grounded answer. Config may be nil for default behavior.
	SubmitQuery(ctx context.Context, query string, config *types.SessionConfig) (*types.Answer, error)
}

// Admin provides lifecycle operations. Use this interface for shutdown paths.
type Admin interface {
	// Close closes all connections and cleans up resources.
	Close(ctx context.Context) error
}

// Ensure GraphQA composes all focused interfaces.
var _ interface {
	QuestionAnswerer
	Admin
} = (GraphQA)(nil)

// Ensure Client implements GraphQA.
var _ GraphQA = (*Client)(nil)
