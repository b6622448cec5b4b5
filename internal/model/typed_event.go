package model

// TypedEvent is a decoded position manager event enriched with metadata.
type TypedEvent struct {
	ChainID     uint64        `json:"chain_id"`
	BlockNumber uint64        `json:"block_number"`
	BlockHash   string        `json:"block_hash"`
	TxHash      string        `json:"tx_hash"`
	LogIndex    uint64        `json:"log_index"`
	Address     string        `json:"address"`
	EventName   string        `json:"event_name"`
	Timestamp   uint64        `json:"timestamp"`
	Sender      string        `json:"sender,omitempty"`
	Decoded     interface{}   `json:"decoded"`
	Position    *PositionMeta `json:"position,omitempty"`
	PoolMeta    *PoolMeta     `json:"pool_meta,omitempty"`
	Tokens      []TokenMeta   `json:"tokens,omitempty"`
	Raw         *RawLogRef    `json:"raw,omitempty"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}
