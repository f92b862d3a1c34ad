package store

import (
	"encoding/json"
	"time"
)

// SnapshotThreshold is the number of versions between two snapshots of an
// aggregate.
const SnapshotThreshold = 10

// Snapshot is the serialized state of an aggregate at Version. Loading
// replays only the events after it.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SnapshotDue reports whether an aggregate at version should be snapshotted.
func SnapshotDue(version int) bool {
	return version > 0 && version%SnapshotThreshold == 0
}
