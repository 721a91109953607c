package store

import (
	"encoding/json"
	"time"
)

// Queue table names. Table identifiers are interpolated into SQL, so the
// driver accepts only names from this set.
const (
	QueueTableAsk                = "ask_queue"
	QueueTableSummary            = "summary_queue"
	QueueTableTruth              = "truth_queue"
	QueueTableMessage            = "message_queue"
	QueueTableQuestionGeneration = "question_generation_queue"
)

// QueueTables is the set of valid queue table identifiers.
var QueueTables = map[string]bool{
	QueueTableAsk:                true,
	QueueTableSummary:            true,
	QueueTableTruth:              true,
	QueueTableMessage:            true,
	QueueTableQuestionGeneration: true,
}

// QueueChannel returns the NOTIFY channel name for a queue table.
func QueueChannel(table string) string {
	return table + "_channel"
}

// QueueRow is one leased or stored work item. Payload is the queue-specific
// body serialised as JSON.
type QueueRow struct {
	ID           int64
	Payload      json.RawMessage
	CreatedAt    time.Time
	PickedAt     *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	AttemptCount int
	NextRunAt    time.Time
	Processed    bool
	LastError    *string
}

// QueueTimings carries the timestamps returned by completion for duration
// metrics.
type QueueTimings struct {
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// QueueDashboardStats summarises one queue for the operations dashboard.
type QueueDashboardStats struct {
	Pending          int64
	Processing       int64
	CompletedToday   int64
	Dead             int64
	OldestPendingAge time.Duration
}
