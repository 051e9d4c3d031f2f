package laborder

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/livefeed"
	"github.com/ehr/lims/internal/platform/notification"
)

// loadSample reads an order and the sample a caller referred to.
func (s *Service) loadSample(ctx context.Context, orderID, ref string) (*Order, Sample, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, Sample{}, err
	}
	idx, byIndex, err := locateSample(o, ref)
	if err != nil {
		return nil, Sample{}, err
	}
	if byIndex {
		s.logger.Warn().
			Str("order_id", o.ID).
			Str("sample_ref", ref).
			Str("sample_id", o.Samples[idx].SampleID).
			Msg("sample addressed by position; use the sample id")
	}
	return o, o.Samples[idx].clone(), nil
}

// recomputeTimeout bounds the order-status recomputation that follows a
// committed sample write. It runs detached from the caller's cancellation.
const recomputeTimeout = 5 * time.Second

// commit writes the sample guarded by the version it was read at, then
// re-derives the order status from the stored samples. o is the order as it
// was read before sm changed.
//
// Once the sample write lands the transition has happened: the recompute is
// detached from the caller's context, and if it still fails the status
// derived from o is returned so the caller audits and publishes the change.
func (s *Service) commit(ctx context.Context, o *Order, sm *Sample) (OrderStatus, error) {
	from, err := storedStatus(o, sm.SampleID)
	if err != nil {
		return "", err
	}
	if !ValidMove(from, sm.Status) {
		return "", apperr.Conflict("sample %s cannot move from %s to %s", sm.SampleID, from, sm.Status)
	}
	sm.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateSample(ctx, o.ID, sm, sm.Version); err != nil {
		return "", err
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recomputeTimeout)
	defer cancel()
	status, err := s.repo.RecomputeStatus(rctx, o.ID, DeriveOrderStatus)
	if err != nil {
		status = DeriveOrderStatus(o.Status, statusesWith(o, sm))
		s.logger.Error().Err(err).
			Str("order_id", o.ID).
			Str("sample_id", sm.SampleID).
			Str("derived_status", string(status)).
			Msg("sample updated but order status not recomputed")
	}
	s.publish(ctx, o.ID, sm, status)
	return status, nil
}

func storedStatus(o *Order, sampleID string) (SampleStatus, error) {
	for i := range o.Samples {
		if o.Samples[i].SampleID == sampleID {
			return o.Samples[i].Status, nil
		}
	}
	return "", apperr.NotFound("sample %s not found on order %s", sampleID, o.ID)
}

// statusesWith lists the order's sample statuses with sm's replacing its own.
func statusesWith(o *Order, sm *Sample) []SampleStatus {
	out := make([]SampleStatus, len(o.Samples))
	for i := range o.Samples {
		out[i] = o.Samples[i].Status
		if o.Samples[i].SampleID == sm.SampleID {
			out[i] = sm.Status
		}
	}
	return out
}

func (s *Service) publish(ctx context.Context, orderID string, sm *Sample, status OrderStatus) {
	if s.feed == nil {
		return
	}
	err := s.feed.Publish(ctx, livefeed.Event{
		Type:         "sample.updated",
		OrderID:      orderID,
		SampleID:     sm.SampleID,
		SampleStatus: string(sm.Status),
		OrderStatus:  string(status),
		At:           sm.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", orderID).Str("sample_id", sm.SampleID).Msg("live feed publish failed")
	}
}

func (s *Service) observe(t Transition, err error) {
	s.metrics.ObserveTransition(string(t), err)
}

// CollectSample marks a sample as drawn.
func (s *Service) CollectSample(ctx context.Context, actor audit.Actor, orderID, sampleRef string) (res *CollectResult, err error) {
	defer func() { s.observe(TransitionCollect, err) }()

	o, sm, err := s.loadSample(ctx, orderID, sampleRef)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(TransitionCollect, sm.Status); err != nil {
		return nil, err
	}
	at := s.now().UTC()
	sm.Status = SampleCollected
	sm.CollectedAt = &at
	sm.CollectedBy = actor.ID

	status, err := s.commit(ctx, o, &sm)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionSampleCollected, orderTarget(o.ID), audit.Details{
		"sample_id":    sm.SampleID,
		"order_status": string(status),
	})
	return &CollectResult{OrderID: o.ID, SampleID: sm.SampleID, CollectionTimestamp: at, OrderStatus: status}, nil
}

// AccessionSample logs a sample into the lab and assigns its accession
// number. The number is only allocated once the precondition holds; if the
// guarded write then loses a race the number stays unused.
func (s *Service) AccessionSample(ctx context.Context, actor audit.Actor, orderID, sampleRef string) (res *AccessionResult, err error) {
	defer func() { s.observe(TransitionAccession, err) }()

	o, sm, err := s.loadSample(ctx, orderID, sampleRef)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(TransitionAccession, sm.Status); err != nil {
		return nil, err
	}
	accession, err := s.ids.NextAccession(ctx)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC()
	sm.Status = SampleInLab
	sm.AccessionNumber = accession
	sm.ReceivedAt = &at
	sm.ReceivedBy = actor.ID

	status, err := s.commit(ctx, o, &sm)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			s.logger.Warn().Err(err).
				Str("order_id", o.ID).
				Str("sample_id", sm.SampleID).
				Str("accession_number", accession).
				Msg("accession number allocated but not assigned")
		}
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionSampleAccessioned, orderTarget(o.ID), audit.Details{
		"sample_id":        sm.SampleID,
		"accession_number": accession,
		"order_status":     string(status),
	})
	return &AccessionResult{
		OrderID:           o.ID,
		SampleID:          sm.SampleID,
		AccessionNumber:   accession,
		ReceivedTimestamp: at,
		OrderStatus:       status,
	}, nil
}

func (s *Service) StartTesting(ctx context.Context, actor audit.Actor, orderID, sampleRef string) (res *TransitionResult, err error) {
	defer func() { s.observe(TransitionStartTesting, err) }()

	o, sm, err := s.loadSample(ctx, orderID, sampleRef)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(TransitionStartTesting, sm.Status); err != nil {
		return nil, err
	}
	sm.Status = SampleTesting

	status, err := s.commit(ctx, o, &sm)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionSampleTestingStarted, orderTarget(o.ID), audit.Details{
		"sample_id":        sm.SampleID,
		"accession_number": sm.AccessionNumber,
	})
	return &TransitionResult{OrderID: o.ID, SampleID: sm.SampleID, Status: sm.Status, OrderStatus: status}, nil
}

// RejectSample takes a sample out of the workflow. Siblings are untouched.
func (s *Service) RejectSample(ctx context.Context, actor audit.Actor, orderID, sampleRef, reason string) (res *TransitionResult, err error) {
	defer func() { s.observe(TransitionReject, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	o, sm, err := s.loadSample(ctx, orderID, sampleRef)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(TransitionReject, sm.Status); err != nil {
		return nil, err
	}
	previous := sm.Status
	sm.Status = SampleRejected
	sm.Rejection = &Rejection{Reason: reason, By: actor.ID, At: s.now().UTC()}

	status, err := s.commit(ctx, o, &sm)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionSampleRejected, orderTarget(o.ID), audit.Details{
		"sample_id":       sm.SampleID,
		"reason":          reason,
		"previous_status": string(previous),
		"order_status":    string(status),
	})
	return &TransitionResult{OrderID: o.ID, SampleID: sm.SampleID, Status: sm.Status, OrderStatus: status}, nil
}

func validateResults(results []ResultInput) ([]ResultInput, error) {
	if len(results) == 0 {
		return nil, apperr.Validation("at least one result is required")
	}
	out := make([]ResultInput, len(results))
	seen := make(map[string]bool, len(results))
	for i, r := range results {
		code := strings.ToUpper(strings.TrimSpace(r.Code))
		if code == "" {
			return nil, apperr.Validation("results[%d]: code is required", i)
		}
		if seen[code] {
			return nil, apperr.Validation("duplicate result for test %s", code)
		}
		seen[code] = true
		value := strings.TrimSpace(r.Value)
		if value == "" {
			return nil, apperr.Validation("results[%d]: value is required", i)
		}
		out[i] = ResultInput{Code: code, Value: value, Unit: strings.TrimSpace(r.Unit)}
	}
	return out, nil
}

func (s *Service) findByAccession(ctx context.Context, accession string) (*Order, Sample, error) {
	accession = strings.TrimSpace(accession)
	if accession == "" {
		return nil, Sample{}, apperr.Validation("accession number is required")
	}
	o, err := s.repo.FindByAccession(ctx, accession)
	if err != nil {
		return nil, Sample{}, err
	}
	idx, err := locateAccession(o, accession)
	if err != nil {
		return nil, Sample{}, err
	}
	return o, o.Samples[idx].clone(), nil
}

// VerifyResults stores entered results and adjudicates each one. Tests that
// pass are released under the submitting user; the rest are held with their
// flags. The sample is Verified only when every test is.
func (s *Service) VerifyResults(ctx context.Context, actor audit.Actor, accession string, results []ResultInput) (res *VerifyResult, err error) {
	defer func() { s.observe(TransitionEnterResults, err) }()

	results, err = validateResults(results)
	if err != nil {
		return nil, err
	}
	o, sm, err := s.findByAccession(ctx, accession)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(TransitionEnterResults, sm.Status); err != nil {
		return nil, err
	}

	byCode := make(map[string]int, len(sm.Tests))
	for i, t := range sm.Tests {
		byCode[strings.ToUpper(t.Code)] = i
	}
	now := s.now().UTC()
	var unmatched, held []string
	matched := 0
	for _, r := range results {
		i, ok := byCode[r.Code]
		if !ok {
			unmatched = append(unmatched, r.Code)
			continue
		}
		matched++
		t := &sm.Tests[i]
		value := r.Value
		t.Value = &value
		if r.Unit != "" {
			t.Unit = r.Unit
		}
		t.ResultEnteredBy = actor.ID
		t.ResultEnteredAt = &now

		verdict := s.adjudicate(ctx, AdjudicationInput{
			PatientID: o.PatientID,
			OrderID:   o.ID,
			SampleID:  sm.SampleID,
			Test:      *t,
		})
		t.IsAbnormal = verdict.Abnormal
		t.Flags = verdict.Flags
		if verdict.Verified {
			t.VerificationStatus = TestVerified
			t.VerifiedBy = actor.ID
			t.VerifiedAt = &now
		} else {
			t.VerificationStatus = TestAwaitingVerification
			t.VerifiedBy = ""
			t.VerifiedAt = nil
			held = append(held, t.Code)
		}
	}
	if matched == 0 {
		return nil, apperr.Validation("no result matches a test on sample %s", sm.SampleID)
	}
	if allTestsVerified(sm.Tests) {
		sm.Status = SampleVerified
	} else {
		sm.Status = SampleAwaitingVerification
	}

	status, err := s.commit(ctx, o, &sm)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionResultsEntered, orderTarget(o.ID), audit.Details{
		"sample_id":        sm.SampleID,
		"accession_number": sm.AccessionNumber,
		"new_status":       string(sm.Status),
		"held":             held,
		"unmatched":        unmatched,
	})
	if len(held) > 0 {
		s.notifyHeld(ctx, o.ID, sm.AccessionNumber, len(held))
	}
	return &VerifyResult{
		OrderID:         o.ID,
		AccessionNumber: sm.AccessionNumber,
		NewStatus:       sm.Status,
		OrderStatus:     status,
		Tests:           sm.Tests,
		Unmatched:       unmatched,
	}, nil
}

func (s *Service) notifyHeld(ctx context.Context, orderID, accession string, held int) {
	if s.notify == nil {
		return
	}
	msg, err := s.notify.Dispatch(ctx, notification.TemplateResultsHeld, map[string]string{
		"accession": accession,
		"order_id":  orderID,
		"held":      strconv.Itoa(held),
	})
	if err != nil {
		s.metrics.NotificationFailed()
		s.logger.Error().Err(err).
			Str("notification_id", msg.ID).
			Str("order_id", orderID).
			Str("accession_number", accession).
			Msg("results-held notification not delivered")
	}
}

// ApproveTest manually verifies one held test. Its flags are kept as a
// record of why it was held.
func (s *Service) ApproveTest(ctx context.Context, actor audit.Actor, accession, code string) (res *VerifyResult, err error) {
	defer func() { s.observe(TransitionApprove, err) }()

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.Validation("test code is required")
	}
	o, sm, err := s.findByAccession(ctx, accession)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(TransitionApprove, sm.Status); err != nil {
		return nil, err
	}
	var t *Test
	for i := range sm.Tests {
		if strings.EqualFold(sm.Tests[i].Code, code) {
			t = &sm.Tests[i]
			break
		}
	}
	if t == nil {
		return nil, apperr.NotFound("test %s not found on sample %s", code, sm.SampleID)
	}
	if t.Value == nil {
		return nil, apperr.Conflict("test %s has no result to verify", code)
	}
	if t.VerificationStatus == TestVerified {
		return nil, apperr.Conflict("test %s is already verified", code)
	}
	now := s.now().UTC()
	t.VerificationStatus = TestVerified
	t.VerifiedBy = actor.ID
	t.VerifiedAt = &now
	if allTestsVerified(sm.Tests) {
		sm.Status = SampleVerified
	}

	status, err := s.commit(ctx, o, &sm)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionResultVerified, orderTarget(o.ID), audit.Details{
		"sample_id":        sm.SampleID,
		"accession_number": sm.AccessionNumber,
		"test_code":        code,
		"flags":            t.Flags,
		"new_status":       string(sm.Status),
	})
	return &VerifyResult{
		OrderID:         o.ID,
		AccessionNumber: sm.AccessionNumber,
		NewStatus:       sm.Status,
		OrderStatus:     status,
		Tests:           sm.Tests,
	}, nil
}
