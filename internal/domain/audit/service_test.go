package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/metrics"
)

type failingRepo struct {
	Repository
	err error
}

func (f failingRepo) Append(context.Context, *Entry) error { return f.err }

func steppingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecorder_ListByTargetNewestFirst(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), zerolog.Nop())
	rec.SetClock(steppingClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	actor := Actor{ID: "tech-1", Role: "technician", Origin: "10.0.0.5"}
	target := Target{Collection: CollectionOrders, ID: "ORD-2026-0000001"}

	rec.Record(ctx, actor, ActionOrderCreated, target, nil)
	rec.Record(ctx, actor, ActionSampleCollected, target, Details{"sample_id": "ORD-2026-0000001-01"})
	rec.Record(ctx, actor, ActionSampleAccessioned, target, Details{"accession_number": "ACC-2026-000001"})
	rec.Record(ctx, actor, ActionPatientRegistered, Target{Collection: CollectionPatients, ID: "p"}, nil)

	got, err := rec.ListByTarget(ctx, CollectionOrders, "ORD-2026-0000001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Action{ActionSampleAccessioned, ActionSampleCollected, ActionOrderCreated}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, a := range want {
		if got[i].Action != a {
			t.Errorf("entry %d: expected %s, got %s", i, a, got[i].Action)
		}
	}
	if got[0].Origin != "10.0.0.5" || got[0].ActorRole != "technician" {
		t.Errorf("actor fields not recorded: %+v", got[0])
	}
	if got[0].Details["accession_number"] != "ACC-2026-000001" {
		t.Errorf("details not recorded: %+v", got[0].Details)
	}
}

func TestRecorder_SameInstantKeepsInsertionOrder(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), zerolog.Nop())
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	rec.SetClock(func() time.Time { return fixed })
	target := Target{Collection: CollectionUsers, ID: "u1"}
	rec.Record(context.Background(), Actor{ID: "m"}, ActionUserCreated, target, nil)
	rec.Record(context.Background(), Actor{ID: "m"}, ActionUserUpdated, target, nil)

	got, _ := rec.ListByTarget(context.Background(), CollectionUsers, "u1")
	if len(got) != 2 || got[0].Action != ActionUserUpdated {
		t.Errorf("expected the later write first, got %+v", got)
	}
}

func TestRecorder_FailureIsLoggedAndCountedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rec := NewRecorder(failingRepo{err: apperr.Unavailable(errors.New("disk full"), "append")}, zerolog.New(&buf))
	rec.SetMetrics(m)

	rec.Record(context.Background(), Actor{ID: "u"}, ActionSampleRejected, Target{Collection: CollectionOrders, ID: "o"}, nil)

	if got := testutil.ToFloat64(m.AuditWriteFailures); got != 1 {
		t.Errorf("expected 1 audit failure counted, got %v", got)
	}
	if !strings.Contains(buf.String(), "audit write failed") || !strings.Contains(buf.String(), "SAMPLE_REJECTED") {
		t.Errorf("expected failure to be logged, got %s", buf.String())
	}
}

func TestRecorder_WritesAfterCallerCancelled(t *testing.T) {
	repo := NewMemoryRepo()
	rec := NewRecorder(repo, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec.Record(ctx, Actor{ID: "u"}, ActionInventoryAdjusted, Target{Collection: CollectionInventory, ID: "i1"}, nil)

	got, err := repo.ListByTarget(context.Background(), CollectionInventory, "i1")
	if err != nil || len(got) != 1 {
		t.Errorf("expected entry despite cancelled request, got %v %v", got, err)
	}
}

func TestRecorder_Search(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), zerolog.Nop())
	rec.SetClock(steppingClock(time.Now()))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		rec.Record(ctx, Actor{ID: "tech"}, ActionSampleCollected, Target{Collection: CollectionOrders, ID: "o"}, nil)
	}
	rec.Record(ctx, Actor{ID: "mgr"}, ActionUserCreated, Target{Collection: CollectionUsers, ID: "u"}, nil)

	items, total, err := rec.Search(ctx, Filter{Action: ActionSampleCollected}, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Errorf("expected 2 of 5, got %d of %d", len(items), total)
	}

	items, total, _ = rec.Search(ctx, Filter{ActorID: "mgr"}, 10, 0)
	if total != 1 || items[0].Action != ActionUserCreated {
		t.Errorf("unexpected actor filter result %+v", items)
	}

	if _, _, err := rec.Search(ctx, Filter{Action: "DROP_TABLE"}, 10, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown action, got %v", err)
	}
}

func TestRecorder_ListByTargetRequiresTarget(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), zerolog.Nop())
	if _, err := rec.ListByTarget(context.Background(), "", "x"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
