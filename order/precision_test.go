package order

import "testing"

func TestTokenAmountFloorsThenTruncates(t *testing.T) {
	p := Precision{PriceStep: 0.0001, AmountStep: 0.01}
	if got := p.TokenAmount(100, 2.0); got != 50.0 {
		t.Fatalf("expected 50.0, got %v", got)
	}
	// 100/3 = 33.333333.. -> 33.333333 -> 33.33
	if got := p.TokenAmount(100, 3); got != 33.33 {
		t.Fatalf("expected 33.33, got %v", got)
	}
	if got := (Precision{}).TokenAmount(100, 3); got != 33.333333 {
		t.Fatalf("expected 6-decimal floor without step, got %v", got)
	}
	if got := p.TokenAmount(100, 0); got != 0 {
		t.Fatalf("zero price must yield zero amount, got %v", got)
	}
}

func TestShrink(t *testing.T) {
	if got := ShrinkCost(10); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
	if got := ShrinkCost(0.33); got != 0.23 {
		t.Fatalf("expected 0.23, got %v", got)
	}
	p := Precision{AmountStep: 1}
	if got := p.ShrinkAmount(50); got != 35 {
		t.Fatalf("expected 35, got %v", got)
	}
	if got := p.ShrinkAmount(3); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestRoundPriceAndValidate(t *testing.T) {
	p := Precision{PriceStep: 0.01, AmountStep: 0.001, MinAmount: 0.001}
	if got := p.RoundPrice(1.0149); got != 1.01 {
		t.Fatalf("expected 1.01, got %v", got)
	}
	if err := p.Validate(100.01, 0.1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Validate(100.015, 0.002); err == nil {
		t.Fatalf("expected price step error")
	}
	if err := p.Validate(100.01, 0.0005); err == nil {
		t.Fatalf("expected qty error")
	}
	if !p.Tradeable(0.002) || p.Tradeable(0.001) {
		t.Fatalf("tradeable must be strictly above min amount")
	}
}
