package model

// Update is a single changed value delivered to subscribers.
type Update struct {
	Type  string        `json:"type"`
	Value interface{}   `json:"value"`
	Args  []interface{} `json:"args"`
}

// PollEvent is emitted at the start of every poll attempt.
type PollEvent struct {
	ID                uint64  `json:"id"`
	LatestBlockNumber *uint64 `json:"latest_block_number"`
	Retry             int     `json:"retry,omitempty"`
}

// UpdateRecord is the persisted form of an update.
type UpdateRecord struct {
	BlockNumber uint64        `json:"block_number"`
	Key         string        `json:"key"`
	Value       string        `json:"value"`
	Args        []interface{} `json:"args,omitempty"`
	ObservedAt  string        `json:"observed_at"`
}
