package model

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestLiquidityEventDataJSONStringFields(t *testing.T) {
	payload := DecreaseLiquidityEventData{
		TokenID:   "123456",
		Liquidity: "340282366920938463463374607431768211455",
		Amount0:   "12345678901234567890",
		Amount1:   "0",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"token_id", "liquidity", "amount0", "amount1"} {
		if _, ok := decoded[key].(string); !ok {
			t.Fatalf("%s should be string", key)
		}
	}
}

func TestCursorOrdering(t *testing.T) {
	a := Cursor{BlockNumber: 10, LogIndex: 5}
	b := Cursor{BlockNumber: 10, LogIndex: 6}
	c := Cursor{BlockNumber: 11, LogIndex: 0}

	if !b.After(a) || !c.After(b) || !c.After(a) {
		t.Fatalf("expected strict ledger order")
	}
	if a.After(a) {
		t.Fatalf("cursor must not be after itself")
	}
}

func TestPositionCloneIsDeep(t *testing.T) {
	hash := "0xabc"
	original := Position{
		ID:                            "1",
		Liquidity:                     big.NewInt(100),
		CumulativeDepositTokenAmounts: []*big.Int{big.NewInt(1), big.NewInt(2)},
		HashClosed:                    &hash,
	}

	clone := original.Clone()
	clone.Liquidity.SetInt64(5)
	clone.CumulativeDepositTokenAmounts[0].SetInt64(9)
	*clone.HashClosed = "0xdef"

	if original.Liquidity.Int64() != 100 {
		t.Fatalf("liquidity aliased")
	}
	if original.CumulativeDepositTokenAmounts[0].Int64() != 1 {
		t.Fatalf("amounts aliased")
	}
	if *original.HashClosed != "0xabc" {
		t.Fatalf("close hash aliased")
	}
}
