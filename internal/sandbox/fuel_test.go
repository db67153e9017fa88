package sandbox

import "testing"

func TestFuelMeterExhaustion(t *testing.T) {
	m := NewFuelMeter(3)
	if m.Spend(1) {
		t.Error("expected no exhaustion after spending 1/3")
	}
	if m.Spend(1) {
		t.Error("expected no exhaustion after spending 2/3")
	}
	if !m.Spend(1) {
		t.Error("expected exhaustion after spending 3/3")
	}
	if m.Spent() != 3 {
		t.Errorf("expected Spent() == 3, got %d", m.Spent())
	}
}

func TestFuelMeterDisabledWithZeroCeiling(t *testing.T) {
	m := NewFuelMeter(0)
	for i := 0; i < 1000; i++ {
		if m.Spend(1) {
			t.Fatal("zero ceiling should never report exhaustion")
		}
	}
}
