// Package storage holds the JSONL sinks and readers that connect the run,
// decode and track stages. Entity stores live in the sub-packages.
package storage

import "positionScope/internal/model"

// LogSink receives raw log batches from the indexer.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}
