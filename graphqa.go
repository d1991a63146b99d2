package graphqa

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soundprediction/graphqa/pkg/audit"
	"github.com/soundprediction/graphqa/pkg/driver"
	"github.com/soundprediction/graphqa/pkg/embedder"
	"github.com/soundprediction/graphqa/pkg/extractor"
	"github.com/soundprediction/graphqa/pkg/graphquery"
	"github.com/soundprediction/graphqa/pkg/nlp"
	"github.com/soundprediction/graphqa/pkg/orchestrator"
	"github.com/soundprediction/graphqa/pkg/types"
)

var (
	// ErrNoDriver is returned when a client is constructed without a graph driver.
	ErrNoDriver = errors.New("graph driver is required")
	// ErrNoNLPClient is returned when a client is constructed without a completion client.
	ErrNoNLPClient = errors.New("nlp client is required")
	// ErrClosed is returned when a query is submitted after Close.
	ErrClosed = errors.New("client is closed")
)

// GraphQA is the main interface for answering questions over a knowledge graph.
// It is composed from the focused interfaces in interfaces.go; consumers should
// depend on the smallest interface that meets their needs.
type GraphQA interface {
	// SubmitQuery runs one question through the full orchestration loop and
	// returns a grounded answer. Config may be nil for default behavior.
	SubmitQuery(ctx context.Context, query string, config *types.SessionConfig) (*types.Answer, error)

	// Close closes all connections and cleans up resources.
	Close(ctx context.Context) error
}

// Config holds configuration for the GraphQA client.
type Config struct {
	// Session tuning applied when SubmitQuery receives a nil config
	Session *types.SessionConfig
	// Trail receives state transitions for audit; nil disables persistence
	Trail audit.Trail
}

// Client is the main implementation of the GraphQA interface.
type Client struct {
	driver       driver.GraphDriver
	nlp          nlp.Client
	embedder     embedder.Client
	orchestrator *orchestrator.Orchestrator
	trail        audit.Trail
	config       *Config
	logger       *slog.Logger
	closed       bool
}

// NewClient creates a new GraphQA client wired with the provided collaborators.
// The embedder may be nil; vector similarity retrieval is then unavailable and
// the graph query agent reports those requests as invalid.
func NewClient(graphDriver driver.GraphDriver, nlpClient nlp.Client, embedderClient embedder.Client, config *Config, logger *slog.Logger) (*Client, error) {
	if graphDriver == nil {
		return nil, ErrNoDriver
	}
	if nlpClient == nil {
		return nil, ErrNoNLPClient
	}
	if config == nil {
		config = &Config{}
	}
	if config.Session == nil {
		config.Session = (&types.SessionConfig{}).WithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}

	extractorAgent := extractor.New(nlpClient, logger)
	graphAgent := graphquery.New(graphDriver, embedderClient, logger)
	orch := orchestrator.New(extractorAgent, graphAgent, nlpClient, config.Trail, logger)

	return &Client{
		driver:       graphDriver,
		nlp:          nlpClient,
		embedder:     embedderClient,
		orchestrator: orch,
		trail:        config.Trail,
		config:       config,
		logger:       logger,
	}, nil
}

// SubmitQuery runs one question through extraction, graph retrieval, and
// synthesis. Failures surface as *orchestrator.FailureError; use
// orchestrator.AsFailureReport to inspect the report.
func (c *Client) SubmitQuery(ctx context.Context, query string, config *types.SessionConfig) (*types.Answer, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if config == nil {
		config = c.config.Session
	}
	return c.orchestrator.Run(ctx, query, config)
}

// Close closes the driver, provider clients, and the audit trail.
func (c *Client) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.trail != nil {
		if err := c.trail.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.nlp.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.driver.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
