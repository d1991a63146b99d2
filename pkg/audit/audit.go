// Package audit persists the orchestrator's state-transition trail so a
// session can be replayed and debugged without re-invoking external
// collaborators.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/graphqa/pkg/types"
)

// Trail records state transitions. Implementations must tolerate concurrent
// sessions recording interleaved transitions.
type Trail interface {
	Record(transition types.Transition)
	Close() error
}

// NopTrail discards all transitions.
type NopTrail struct{}

// Record implements Trail.
func (NopTrail) Record(types.Transition) {}

// Close implements Trail.
func (NopTrail) Close() error { return nil }

// TransitionRecord is the Parquet row shape for one transition.
type TransitionRecord struct {
	SessionID string    `parquet:"session_id"`
	FromState string    `parquet:"from_state"`
	Trigger   string    `parquet:"trigger"`
	ToState   string    `parquet:"to_state"`
	Turn      int32     `parquet:"turn"`
	Timestamp time.Time `parquet:"timestamp"`
}

// ParquetTrail buffers transitions and writes them to Parquet files in an
// output directory, one file per flush.
type ParquetTrail struct {
	outputDir string
	batchSize int

	mu     sync.Mutex
	buffer []TransitionRecord
}

// NewParquetTrail creates a Parquet-backed trail writing under outputDir.
func NewParquetTrail(outputDir string, batchSize int) (*ParquetTrail, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &ParquetTrail{
		outputDir: outputDir,
		batchSize: batchSize,
		buffer:    make([]TransitionRecord, 0, batchSize),
	}, nil
}

// Record implements Trail.
func (t *ParquetTrail) Record(transition types.Transition) {
	record := TransitionRecord{
		SessionID: transition.SessionID,
		FromState: string(transition.From),
		Trigger:   transition.Trigger,
		ToState:   string(transition.To),
		Turn:      int32(transition.Turn),
		Timestamp: transition.At.UTC(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.buffer = append(t.buffer, record)
	if len(t.buffer) >= t.batchSize {
		// Flush errors are logged by flush; a failed audit write must not
		// fail the session it describes.
		_ = t.flush()
	}
}

// Close flushes any buffered transitions.
func (t *ParquetTrail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flush()
}

// flush writes the current buffer to a new Parquet file.
// Caller must hold the lock.
func (t *ParquetTrail) flush() error {
	if len(t.buffer) == 0 {
		return nil
	}

	filename := fmt.Sprintf("transitions_%s_%d.parquet", time.Now().Format("20060102_150405"), time.Now().UnixNano())
	path := filepath.Join(t.outputDir, filename)

	if err := parquet.WriteFile(path, t.buffer); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write audit parquet file: %v\n", err)
		return err
	}

	t.buffer = t.buffer[:0]
	return nil
}
