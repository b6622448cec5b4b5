package indexer

import "testing"

func TestParseAddresses(t *testing.T) {
	got, err := ParseAddresses([]string{
		" 0xC36442b4a4522E871399CD717aBDD847Ab11FE88 ",
		"",
		"0xc36442b4a4522e871399cd717abdd847ab11fe88",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Hex() != "0xC36442b4a4522E871399CD717aBDD847Ab11FE88" {
		t.Fatalf("unexpected addresses: %v", got)
	}
	if _, err := ParseAddresses([]string{"0x123"}); err == nil {
		t.Fatalf("expected invalid address error")
	}
}

func TestParseTopic0(t *testing.T) {
	topic := "0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f"
	got, err := ParseTopic0([]string{topic, topic})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Hex() != topic {
		t.Fatalf("unexpected topics: %v", got)
	}
	if _, err := ParseTopic0([]string{"0x1234"}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestParseTopic0Signature(t *testing.T) {
	got, err := ParseTopic0([]string{"Transfer(address,address,uint256)"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if len(got) != 1 || got[0].Hex() != want {
		t.Fatalf("unexpected topics: %v", got)
	}
	if _, err := ParseTopic0([]string{"Transfer(address, address)"}); err == nil {
		t.Fatalf("expected signature error")
	}
}
