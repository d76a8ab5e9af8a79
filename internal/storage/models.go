package storage

import (
	"encoding/json"
	"time"
)

// AlertRecord captures an emitted signal for auditing. Dedup state lives in
// memory; rows here are a write-behind trail only.
type AlertRecord struct {
	ID        int64
	Token     string
	Strategy  string
	Strength  int
	Message   string
	Evidence  json.RawMessage
	ChatID    string
	CreatedAt time.Time
}
