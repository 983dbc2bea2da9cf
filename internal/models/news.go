package models

import "time"

// NewsItem is one unit of analyzed news produced by the summarization
// service. Items are immutable once stored and ordered by ID; the news
// ledger assigns IDs monotonically on append.
type NewsItem struct {
	ID        uint64    `json:"id" badgerhold:"key"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Headlines []string  `json:"headlines"`
	Insights  string    `json:"insights"`
	RunID     string    `json:"run_id"`
}

// ProcessedMarker records that a consumer has processed a news item.
// At most one marker exists per (consumer, item); inserting a marker is
// the only mutation the news ledger performs after append.
type ProcessedMarker struct {
	Key         string    `json:"key" badgerhold:"key"` // consumer + "/" + item id
	Consumer    string    `json:"consumer"`
	ItemID      uint64    `json:"item_id"`
	ProcessedAt time.Time `json:"processed_at"`
	RunID       string    `json:"run_id"`
}

// Consumers of the news ledger.
const (
	ConsumerDecider = "decider"
)
