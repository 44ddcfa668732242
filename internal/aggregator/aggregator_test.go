package aggregator

import "testing"

func TestAggregateAllZero(t *testing.T) {
	r := Aggregate([]uint16{0, 0, 0}, []int16{100, 200}, ImbalanceWarnMV)
	if r.MinCellMV != 0 || r.MaxCellMV != 0 || r.AvgCellMV != 0 {
		t.Errorf("expected all-zero fallback, got %+v", r)
	}
	if r.PackVoltageMV != 0 {
		t.Errorf("pack voltage should sum to 0, got %d", r.PackVoltageMV)
	}
}

func TestAggregateExcludesZeroFromMin(t *testing.T) {
	r := Aggregate([]uint16{3700, 0, 3750}, []int16{350}, ImbalanceWarnMV)
	if r.MinCellMV != 3700 {
		t.Errorf("MinCellMV = %d, want 3700 (zero excluded)", r.MinCellMV)
	}
	if r.MaxCellMV != 3750 {
		t.Errorf("MaxCellMV = %d, want 3750", r.MaxCellMV)
	}
	if r.PackVoltageMV != 3700+0+3750 {
		t.Errorf("PackVoltageMV = %d, want sum including the zero reading", r.PackVoltageMV)
	}
}

func TestAggregateImbalanceFlag(t *testing.T) {
	r := Aggregate([]uint16{3700, 3760}, nil, ImbalanceWarnMV)
	if !r.Imbalance {
		t.Error("expected imbalance flag for 60 mV spread over 50 mV threshold")
	}
	r2 := Aggregate([]uint16{3700, 3740}, nil, ImbalanceWarnMV)
	if r2.Imbalance {
		t.Error("did not expect imbalance flag for 40 mV spread")
	}
}

func TestAggregateMinMaxTemp(t *testing.T) {
	r := Aggregate([]uint16{3700}, []int16{-50, 350, 100}, ImbalanceWarnMV)
	if r.MinTempDeciC != -50 || r.MaxTempDeciC != 350 {
		t.Errorf("got min=%d max=%d, want min=-50 max=350", r.MinTempDeciC, r.MaxTempDeciC)
	}
}
