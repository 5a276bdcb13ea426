package exitcalc

import (
	"strconv"
	"strings"
	"testing"

	"github.com/quantive/signalbridge/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Directive
	}{
		{"", Directive{Kind: KindFinalExit, Raw: ""}},
		{"ENTRY", Directive{Kind: KindEntry, Raw: "ENTRY"}},
		{"entry", Directive{Kind: KindEntry, Raw: "ENTRY"}},
		{"EXIT_50", Directive{Kind: KindPercentExit, Percent: 50, Raw: "EXIT_50"}},
		{"EXIT_HALF", Directive{Kind: KindPercentExit, Percent: 50, Raw: "EXIT_HALF"}},
		{"EXIT_25", Directive{Kind: KindPercentExit, Percent: 25, Raw: "EXIT_25"}},
		{"EXIT_75", Directive{Kind: KindPercentExit, Percent: 75, Raw: "EXIT_75"}},
		{"EXIT_33", Directive{Kind: KindPercentExit, Percent: 33, Raw: "EXIT_33"}},
		{"EXIT_FINAL", Directive{Kind: KindFinalExit, Raw: "EXIT_FINAL"}},
		{"EXIT_ALL", Directive{Kind: KindFinalExit, Raw: "EXIT_ALL"}},
		{"EXIT_100", Directive{Kind: KindFinalExit, Raw: "EXIT_100"}},
		{"EXIT_1", Directive{Kind: KindScaleOut, Stage: 1, Raw: "EXIT_1"}},
		{"EXIT_2", Directive{Kind: KindScaleOut, Stage: 2, Raw: "EXIT_2"}},
		{"EXIT_9", Directive{Kind: KindScaleOut, Stage: 9, Raw: "EXIT_9"}},
		{"EXIT_150", Directive{Kind: KindUnknown, Raw: "EXIT_150"}},
		{"EXIT_0", Directive{Kind: KindUnknown, Raw: "EXIT_0"}},
		{"EXIT_XYZ", Directive{Kind: KindUnknown, Raw: "EXIT_XYZ"}},
		{"TAKE_PROFIT", Directive{Kind: KindUnknown, Raw: "TAKE_PROFIT"}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := Parse(tt.token)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.token, got, tt.want)
			}
		})
	}
}

func TestCalculatePercentExits(t *testing.T) {
	// For all positions and pct in {25,50,75}: qty = ceil(pos*pct/100) and
	// qty <= pos.
	for pos := int64(1); pos <= 200; pos++ {
		for _, pct := range []int64{25, 50, 75} {
			d := Parse("EXIT_" + strconv.FormatInt(pct, 10))
			res := Calculate(domain.ActionSell, d, pos, 10)
			want := (pos*pct + 99) / 100
			if res.Quantity != want {
				t.Fatalf("pos=%d pct=%d: got %d, want %d", pos, pct, res.Quantity, want)
			}
			if res.Quantity > pos {
				t.Fatalf("pos=%d pct=%d: quantity %d exceeds position", pos, pct, res.Quantity)
			}
		}
	}
}

func TestCalculateFinalExit(t *testing.T) {
	// EXIT_FINAL/ALL/100 always returns exactly the current position,
	// independent of the configured quantity.
	for _, token := range []string{"EXIT_FINAL", "EXIT_ALL", "EXIT_100"} {
		for _, pos := range []int64{1, 5, 9, 137} {
			res := Calculate(domain.ActionSell, Parse(token), pos, 10000)
			if res.Quantity != pos {
				t.Errorf("%s pos=%d: got %d, want %d", token, pos, res.Quantity, pos)
			}
		}
	}
}

func TestCalculateEntryAndBuys(t *testing.T) {
	tests := []struct {
		name   string
		action domain.SignalAction
		token  string
		pos    int64
	}{
		{"entry buy", domain.ActionBuy, "ENTRY", 0},
		{"entry sell", domain.ActionSell, "ENTRY", 7},
		{"buy no label", domain.ActionBuy, "", 3},
		{"buy with exit label", domain.ActionBuy, "EXIT_50", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(tt.action, Parse(tt.token), tt.pos, 10)
			if res.Quantity != 10 {
				t.Errorf("got %d, want configured quantity 10", res.Quantity)
			}
		})
	}
}

func TestCalculateNoPosition(t *testing.T) {
	for _, pos := range []int64{0, -4} {
		res := Calculate(domain.ActionSell, Parse("EXIT_50"), pos, 10)
		if res.Quantity != 0 {
			t.Errorf("pos=%d: got %d, want 0", pos, res.Quantity)
		}
		if res.Reason != "no position to exit" {
			t.Errorf("pos=%d: reason %q", pos, res.Reason)
		}
	}
}

func TestCalculateExit33Scenario(t *testing.T) {
	// currentPosition=9, configuredQuantity=10, EXIT_33, SELL -> 3, reason
	// mentions "33%".
	res := Calculate(domain.ActionSell, Parse("EXIT_33"), 9, 10)
	if res.Quantity != 3 {
		t.Fatalf("got %d, want 3", res.Quantity)
	}
	if !strings.Contains(res.Reason, "33%") {
		t.Errorf("reason %q does not mention 33%%", res.Reason)
	}
}

func TestCalculateEntryExitSequence(t *testing.T) {
	// ENTRY/BUY with configured 10 -> position 10; EXIT_50/SELL -> 5,
	// position 5; EXIT_FINAL/SELL -> 5, position 0.
	pos := int64(0)

	res := Calculate(domain.ActionBuy, Parse("ENTRY"), pos, 10)
	pos += res.Quantity
	if pos != 10 {
		t.Fatalf("after entry: position %d, want 10", pos)
	}

	res = Calculate(domain.ActionSell, Parse("EXIT_50"), pos, 10)
	if res.Quantity != 5 {
		t.Fatalf("EXIT_50: got %d, want 5", res.Quantity)
	}
	pos -= res.Quantity

	res = Calculate(domain.ActionSell, Parse("EXIT_FINAL"), pos, 10)
	if res.Quantity != 5 {
		t.Fatalf("EXIT_FINAL: got %d, want 5", res.Quantity)
	}
	pos -= res.Quantity
	if pos != 0 {
		t.Fatalf("final position %d, want 0", pos)
	}
}

func TestCalculateScaleOutSequence(t *testing.T) {
	// Scale-out on 9: EXIT_1 -> 3; then on 6: EXIT_2 -> 3; then on 3:
	// EXIT_3 -> 3 (all remaining).
	res := Calculate(domain.ActionSell, Parse("EXIT_1"), 9, 10)
	if res.Quantity != 3 {
		t.Fatalf("EXIT_1 on 9: got %d, want 3", res.Quantity)
	}
	res = Calculate(domain.ActionSell, Parse("EXIT_2"), 6, 10)
	if res.Quantity != 3 {
		t.Fatalf("EXIT_2 on 6: got %d, want 3", res.Quantity)
	}
	res = Calculate(domain.ActionSell, Parse("EXIT_3"), 3, 10)
	if res.Quantity != 3 {
		t.Fatalf("EXIT_3 on 3: got %d, want 3", res.Quantity)
	}
}

func TestCalculateUnknownToken(t *testing.T) {
	res := Calculate(domain.ActionSell, Parse("EXIT_BOGUS"), 7, 10)
	if res.Quantity != 7 {
		t.Fatalf("got %d, want full position 7", res.Quantity)
	}
	if res.Warning == nil || res.Warning.Code != domain.WarnUnknownExitType {
		t.Errorf("expected unknown-exit-type warning, got %+v", res.Warning)
	}
}

func TestCalculateOutOfRangePercent(t *testing.T) {
	res := Calculate(domain.ActionSell, Parse("EXIT_150"), 7, 10)
	if res.Quantity != 7 {
		t.Fatalf("got %d, want full position 7", res.Quantity)
	}
	if res.Warning == nil {
		t.Error("expected a warning for out-of-range percentage")
	}
}

func TestValidateExitQuantity(t *testing.T) {
	t.Run("sell never exceeds position", func(t *testing.T) {
		qty, warn, err := ValidateExitQuantity(domain.ActionSell, 12, 5, 0)
		if err != nil {
			t.Fatal(err)
		}
		if qty != 5 {
			t.Errorf("got %d, want 5", qty)
		}
		if warn == nil || warn.Code != domain.WarnOversizeExit {
			t.Errorf("expected oversize warning, got %+v", warn)
		}
	})

	t.Run("buy capped at max position", func(t *testing.T) {
		qty, warn, err := ValidateExitQuantity(domain.ActionBuy, 10, 7, 12)
		if err != nil {
			t.Fatal(err)
		}
		if qty != 5 {
			t.Errorf("got %d, want 5", qty)
		}
		if warn == nil {
			t.Error("expected clamp warning")
		}
	})

	t.Run("buy at cap rejected", func(t *testing.T) {
		if _, _, err := ValidateExitQuantity(domain.ActionBuy, 1, 12, 12); err == nil {
			t.Error("expected error when already at cap")
		}
	})

	t.Run("non-positive rejected", func(t *testing.T) {
		for _, q := range []int64{0, -3} {
			if _, _, err := ValidateExitQuantity(domain.ActionSell, q, 10, 0); err == nil {
				t.Errorf("quantity %d: expected error", q)
			}
		}
	})

	t.Run("uncapped buy passes through", func(t *testing.T) {
		qty, warn, err := ValidateExitQuantity(domain.ActionBuy, 10, 7, 0)
		if err != nil || warn != nil || qty != 10 {
			t.Errorf("got qty=%d warn=%v err=%v", qty, warn, err)
		}
	})
}
