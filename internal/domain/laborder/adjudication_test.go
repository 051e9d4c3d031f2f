package laborder

import (
	"context"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestRangeAdjudicator(t *testing.T) {
	adj := RangeAdjudicator(map[string]ReferenceRange{
		"glu": {Low: 70, High: 99, Unit: "mg/dL"},
	}, nil)
	tests := []struct {
		name         string
		test         Test
		wantVerified bool
		wantAbnormal bool
	}{
		{"in range", Test{Code: "GLU", Value: strPtr("85"), Unit: "mg/dL"}, true, false},
		{"boundary", Test{Code: "GLU", Value: strPtr("99")}, true, false},
		{"high", Test{Code: "GLU", Value: strPtr("180"), Unit: "mg/dL"}, false, true},
		{"wrong unit", Test{Code: "GLU", Value: strPtr("5.0"), Unit: "mmol/L"}, false, true},
		{"not numeric", Test{Code: "GLU", Value: strPtr("hemolysed")}, false, true},
		{"no range in catalog", Test{Code: "CULT", Value: strPtr("no growth")}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adj(context.Background(), AdjudicationInput{Test: tt.test})
			if got.Verified != tt.wantVerified || got.Abnormal != tt.wantAbnormal {
				t.Errorf("got %+v", got)
			}
			if len(got.Flags) != 0 {
				t.Errorf("expected no flags, got %v", got.Flags)
			}
		})
	}
}

func TestRangeAdjudicator_DeltaCheck(t *testing.T) {
	adj := RangeAdjudicator(DefaultReferenceRanges(), func(_ context.Context, in AdjudicationInput) bool {
		return in.Test.Code != "K"
	})

	got := adj(context.Background(), AdjudicationInput{Test: Test{Code: "K", Value: strPtr("4.2"), Unit: "mmol/L"}})
	if got.Verified || got.Abnormal {
		t.Errorf("in-range result failing the delta check must be held without the abnormal flag, got %+v", got)
	}
	if len(got.Flags) != 1 || got.Flags[0] != FlagDeltaCheckFailed {
		t.Errorf("expected %s flag, got %v", FlagDeltaCheckFailed, got.Flags)
	}

	got = adj(context.Background(), AdjudicationInput{Test: Test{Code: "NA", Value: strPtr("140")}})
	if !got.Verified {
		t.Errorf("expected NA 140 to verify, got %+v", got)
	}
}
