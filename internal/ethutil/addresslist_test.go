package ethutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAddressList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, err := ParseAddressList("   \n\t")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
	})

	t.Run("csv+whitespace+dedupe", func(t *testing.T) {
		got, err := ParseAddressList("0x0000000000000000000000000000000000000001, 0x0000000000000000000000000000000000000002\n0x0000000000000000000000000000000000000001")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2, got %d: %#v", len(got), got)
		}
		if got[0] != common.HexToAddress("0x1") || got[1] != common.HexToAddress("0x2") {
			t.Fatalf("unexpected order: %#v", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseAddressList("0xnotanaddress")
		if err == nil {
			t.Fatalf("expected err")
		}
	})
}

func TestParseAddressSet(t *testing.T) {
	set, err := ParseAddressSet("0x0000000000000000000000000000000000000003;0x0000000000000000000000000000000000000004")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(set))
	}
	if _, ok := set[common.HexToAddress("0x3")]; !ok {
		t.Fatalf("missing 0x3")
	}

	empty, err := ParseAddressSet("")
	if err != nil || empty != nil {
		t.Fatalf("expected nil set for empty input, got %#v err=%v", empty, err)
	}
}

func TestJoinHexAndHexList(t *testing.T) {
	addrs := []common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2")}
	if got := JoinHex(addrs); got != "0x0000000000000000000000000000000000000001,0x0000000000000000000000000000000000000002" {
		t.Fatalf("JoinHex = %q", got)
	}
	if got := JoinHex(nil); got != "" {
		t.Fatalf("JoinHex(nil) = %q", got)
	}
	hl := HexList(addrs)
	if len(hl) != 2 || hl[0] != addrs[0].Hex() {
		t.Fatalf("HexList = %#v", hl)
	}
}
