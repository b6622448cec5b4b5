package indexer

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestBuildLogRecord(t *testing.T) {
	log := types.Log{
		Address:     common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
		Topics:      []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x2a")},
		Data:        []byte{0xde, 0xad},
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xfeed"),
		TxIndex:     4,
		BlockHash:   common.HexToHash("0xbeef"),
		Index:       9,
	}
	ingested := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	record := buildLogRecord(56, log, 1700000000, ingested)
	if record.ChainID != 56 || record.BlockNumber != 100 || record.LogIndex != 9 || record.TxIndex != 4 {
		t.Fatalf("ordinal mismatch: %+v", record)
	}
	if record.Address != log.Address.Hex() || len(record.Topics) != 2 || record.Topics[1] != log.Topics[1].Hex() {
		t.Fatalf("address/topics mismatch: %+v", record)
	}
	if record.Data != "0xdead" {
		t.Fatalf("data mismatch: %s", record.Data)
	}
	if record.IngestedAt != "2024-01-02T03:04:05Z" {
		t.Fatalf("ingested at mismatch: %s", record.IngestedAt)
	}
	if logKey(log) != "100:"+log.TxHash.Hex()+":9" {
		t.Fatalf("log key mismatch: %s", logKey(log))
	}
}
