package model

import "encoding/json"

// TypedEventRecord is the JSON representation consumed by the tracker.
type TypedEventRecord struct {
	ChainID     uint64          `json:"chain_id"`
	BlockNumber uint64          `json:"block_number"`
	BlockHash   string          `json:"block_hash"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     string          `json:"address"`
	EventName   string          `json:"event_name"`
	Timestamp   uint64          `json:"timestamp"`
	Sender      string          `json:"sender,omitempty"`
	Decoded     json.RawMessage `json:"decoded"`
	Position    *PositionMeta   `json:"position,omitempty"`
	PoolMeta    *PoolMeta       `json:"pool_meta,omitempty"`
	Tokens      []TokenMeta     `json:"tokens,omitempty"`
	Raw         *RawLogRef      `json:"raw,omitempty"`
}

// Cursor returns the ledger ordinal of the event.
func (r TypedEventRecord) Cursor() Cursor {
	return Cursor{BlockNumber: r.BlockNumber, LogIndex: r.LogIndex}
}
