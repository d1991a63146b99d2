package graphqa

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soundprediction/graphqa/pkg/config"
	"github.com/soundprediction/graphqa/pkg/orchestrator"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a single question and print the result",
	Long: `Run one question through the orchestration loop and print the answer with
its cited evidence identifiers. Interrupting with Ctrl-C aborts the session.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var queryOutput string

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "yaml", "Output format (yaml, json)")
	queryCmd.Flags().Int("max-turns", 0, "Override the turn budget")
	queryCmd.Flags().Float64("threshold", 0, "Override the evidence sufficiency threshold")

	// Database flags shared with serve
	queryCmd.Flags().String("db-driver", "neo4j", "Database driver (neo4j, memory)")
	queryCmd.Flags().String("db-uri", "bolt://localhost:7687", "Database URI")
	queryCmd.Flags().String("db-username", "neo4j", "Database username")
	queryCmd.Flags().String("db-password", "", "Database password")
	queryCmd.Flags().String("db-database", "neo4j", "Database name")
}

// queryOutputDoc is the printed result shape for both formats.
type queryOutputDoc struct {
	Text             string   `json:"text" yaml:"text"`
	CitedEvidenceIDs []string `json:"cited_evidence_ids" yaml:"cited_evidence_ids"`
	LowConfidence    bool     `json:"low_confidence" yaml:"low_confidence"`
}

type failureOutputDoc struct {
	Kind      string `json:"kind" yaml:"kind"`
	LastState string `json:"last_state" yaml:"last_state"`
	TurnCount int    `json:"turn_count" yaml:"turn_count"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-uri") {
		cfg.Database.URI, _ = cmd.Flags().GetString("db-uri")
	}
	if cmd.Flags().Changed("db-username") {
		cfg.Database.Username, _ = cmd.Flags().GetString("db-username")
	}
	if cmd.Flags().Changed("db-password") {
		cfg.Database.Password, _ = cmd.Flags().GetString("db-password")
	}
	if cmd.Flags().Changed("db-database") {
		cfg.Database.Database, _ = cmd.Flags().GetString("db-database")
	}
	if maxTurns, _ := cmd.Flags().GetInt("max-turns"); maxTurns > 0 {
		cfg.Orchestrator.MaxTurns = maxTurns
	}
	if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
		cfg.Orchestrator.SufficiencyThreshold = threshold
	}

	client, err := initializeClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize GraphQA: %w", err)
	}

	// Ctrl-C aborts the in-flight session
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer client.Close(context.Background())

	answer, err := client.SubmitQuery(ctx, args[0], sessionConfig(cfg))
	if err != nil {
		if report, ok := orchestrator.AsFailureReport(err); ok {
			printDoc(failureOutputDoc{
				Kind:      string(report.Kind),
				LastState: string(report.LastState),
				TurnCount: report.TurnCount,
			})
		}
		return err
	}

	return printDoc(queryOutputDoc{
		Text:             answer.Text,
		CitedEvidenceIDs: answer.CitedEvidenceIDs,
		LowConfidence:    answer.LowConfidence,
	})
}

func printDoc(doc any) error {
	switch queryOutput {
	case "json":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		out, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	}
	return nil
}
