package laborder

import (
	"fmt"
	"strconv"

	"github.com/ehr/lims/internal/platform/apperr"
)

// Position of each status along the forward path. Rejected sits outside it.
var sampleRank = map[SampleStatus]int{
	SampleAwaitingCollection:   0,
	SampleCollected:            1,
	SampleInLab:                2,
	SampleTesting:              3,
	SampleAwaitingVerification: 4,
	SampleVerified:             5,
}

func (s SampleStatus) Valid() bool {
	_, ok := sampleRank[s]
	return ok || s == SampleRejected
}

func (s SampleStatus) Terminal() bool {
	return s == SampleVerified || s == SampleRejected
}

// Received reports whether the lab has logged the sample, which is exactly
// when it must carry an accession number.
func (s SampleStatus) Received() bool {
	r, ok := sampleRank[s]
	return ok && r >= sampleRank[SampleInLab]
}

// ValidMove reports whether a sample may go from one status to another.
// Samples only move forward or sideways into Rejected, except that results
// may be re-entered while a sample awaits verification.
func ValidMove(from, to SampleStatus) bool {
	if from.Terminal() || !from.Valid() || !to.Valid() {
		return false
	}
	if to == SampleRejected {
		return true
	}
	if from == to {
		return from == SampleAwaitingVerification
	}
	return sampleRank[to] > sampleRank[from]
}

type Transition string

const (
	TransitionCollect      Transition = "collect"
	TransitionAccession    Transition = "accession"
	TransitionStartTesting Transition = "start_testing"
	TransitionReject       Transition = "reject"
	TransitionEnterResults Transition = "enter_results"
	TransitionApprove      Transition = "approve"
)

var allowedFrom = map[Transition][]SampleStatus{
	TransitionCollect:      {SampleAwaitingCollection},
	TransitionAccession:    {SampleAwaitingCollection, SampleCollected},
	TransitionStartTesting: {SampleInLab},
	TransitionReject: {SampleAwaitingCollection, SampleCollected, SampleInLab,
		SampleTesting, SampleAwaitingVerification},
	TransitionEnterResults: {SampleInLab, SampleTesting, SampleAwaitingVerification},
	TransitionApprove:      {SampleAwaitingVerification},
}

// CheckTransition returns Conflict when t may not start from the given status.
func CheckTransition(t Transition, from SampleStatus) error {
	for _, s := range allowedFrom[t] {
		if s == from {
			return nil
		}
	}
	return apperr.Conflict("cannot %s a sample in status %s", t, from)
}

// DeriveOrderStatus computes an order's status from its samples' statuses.
// The result depends only on the multiset of sample statuses, except that
// when no rule applies the current status is kept.
//
//   - Complete: every sample not rejected is Verified, and at least one is.
//   - Pending: every sample is in the lab (InLab or beyond) or rejected.
//   - Partially Collected: some sample has left AwaitingCollection.
//   - otherwise unchanged.
func DeriveOrderStatus(current OrderStatus, statuses []SampleStatus) OrderStatus {
	if len(statuses) == 0 {
		return current
	}
	verified, rejected, inLab, started := 0, 0, 0, 0
	for _, s := range statuses {
		switch {
		case s == SampleRejected:
			rejected++
			started++
		case s == SampleVerified:
			verified++
			inLab++
			started++
		case s.Received():
			inLab++
			started++
		case s != SampleAwaitingCollection:
			started++
		}
	}
	n := len(statuses)
	switch {
	case verified > 0 && verified+rejected == n:
		return OrderComplete
	case inLab+rejected == n:
		return OrderPending
	case started > 0:
		return OrderPartiallyCollected
	default:
		return current
	}
}

// SampleID formats the identifier of the n-th (1-based) sample of an order.
func SampleID(orderID string, n int) string {
	return fmt.Sprintf("%s-%02d", orderID, n)
}

// locateSample resolves a sample reference within an order. The reference is
// normally a sample ID. A reference made only of digits is read as a zero-based
// position; indexOnly reports that this fallback was used.
func locateSample(o *Order, ref string) (idx int, indexOnly bool, err error) {
	for i := range o.Samples {
		if o.Samples[i].SampleID == ref {
			return i, false, nil
		}
	}
	if allDigits(ref) {
		if n, convErr := strconv.Atoi(ref); convErr == nil && n < len(o.Samples) {
			return n, true, nil
		}
	}
	return -1, false, apperr.NotFound("sample %s not found on order %s", ref, o.ID)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func locateAccession(o *Order, accession string) (int, error) {
	for i := range o.Samples {
		if o.Samples[i].AccessionNumber == accession {
			return i, nil
		}
	}
	return -1, apperr.NotFound("no sample with accession number %s", accession)
}

func allTestsVerified(tests []Test) bool {
	if len(tests) == 0 {
		return false
	}
	for _, t := range tests {
		if t.VerificationStatus != TestVerified {
			return false
		}
	}
	return true
}
