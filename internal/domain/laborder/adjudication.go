package laborder

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type AdjudicationInput struct {
	PatientID uuid.UUID
	OrderID   string
	SampleID  string
	Test      Test
}

// Adjudication is the machine decision for one entered result. A test that is
// not Verified is held for manual review with the returned flags.
type Adjudication struct {
	Verified bool
	Abnormal bool
	Flags    []string
}

// Adjudicator decides whether a result can be released without manual review.
type Adjudicator func(ctx context.Context, in AdjudicationInput) Adjudication

// ReferenceRange bounds a normal numeric result. Unit, when set, must match the
// unit the result was entered in.
type ReferenceRange struct {
	Low  float64
	High float64
	Unit string
}

// DeltaCheck reports whether a result is consistent with the patient's
// previous result for the same analyte.
type DeltaCheck func(ctx context.Context, in AdjudicationInput) bool

// DefaultReferenceRanges covers the common panels the lab orders by default.
func DefaultReferenceRanges() map[string]ReferenceRange {
	return map[string]ReferenceRange{
		"GLU":  {Low: 70, High: 99, Unit: "mg/dL"},
		"HGB":  {Low: 12, High: 17.5, Unit: "g/dL"},
		"WBC":  {Low: 4.5, High: 11, Unit: "10^3/uL"},
		"PLT":  {Low: 150, High: 450, Unit: "10^3/uL"},
		"NA":   {Low: 135, High: 145, Unit: "mmol/L"},
		"K":    {Low: 3.5, High: 5.1, Unit: "mmol/L"},
		"CREA": {Low: 0.6, High: 1.3, Unit: "mg/dL"},
		"TSH":  {Low: 0.4, High: 4.0, Unit: "mIU/L"},
	}
}

// RangeAdjudicator verifies a result when it lies inside its reference range
// and passes the delta check. Codes absent from the catalog have no range to
// violate. A catalog code with a non-numeric value or a mismatched unit is
// held as abnormal. A nil delta check always passes.
func RangeAdjudicator(catalog map[string]ReferenceRange, delta DeltaCheck) Adjudicator {
	ranges := make(map[string]ReferenceRange, len(catalog))
	for code, r := range catalog {
		ranges[strings.ToUpper(code)] = r
	}
	return func(ctx context.Context, in AdjudicationInput) Adjudication {
		var out Adjudication
		if rr, ok := ranges[strings.ToUpper(in.Test.Code)]; ok {
			out.Abnormal = !withinRange(rr, in.Test)
		}
		if delta != nil && !delta(ctx, in) {
			out.Flags = append(out.Flags, FlagDeltaCheckFailed)
		}
		out.Verified = !out.Abnormal && len(out.Flags) == 0
		return out
	}
}

func withinRange(rr ReferenceRange, t Test) bool {
	if t.Value == nil {
		return false
	}
	if rr.Unit != "" && t.Unit != "" && !strings.EqualFold(rr.Unit, t.Unit) {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*t.Value), 64)
	if err != nil {
		return false
	}
	return v >= rr.Low && v <= rr.High
}
