package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/metrics"
	"github.com/ehr/lims/internal/platform/notification"
)

var manager = audit.Actor{ID: "mgr-1", Role: "manager"}

func newTestService(n notification.Notifier) (*Service, audit.Repository, *metrics.Metrics) {
	auditRepo := audit.NewMemoryRepo()
	svc := NewService(NewMemoryRepo(), audit.NewRecorder(auditRepo, zerolog.Nop()), notification.NewDispatcher(n, nil), zerolog.Nop())
	m := metrics.New(prometheus.NewRegistry())
	svc.SetMetrics(m)
	return svc, auditRepo, m
}

func mustCreate(t *testing.T, svc *Service, name, sku string, qty, minimum int) *Item {
	t.Helper()
	it, err := svc.CreateItem(context.Background(), manager, CreateRequest{Name: name, SKU: sku, Unit: "box", QuantityOnHand: qty, MinStockLevel: minimum})
	if err != nil {
		t.Fatalf("create %s: %v", sku, err)
	}
	return it
}

func TestCreateItem(t *testing.T) {
	svc, auditRepo, _ := newTestService(&notification.RecordingNotifier{})
	ctx := context.Background()
	it := mustCreate(t, svc, "EDTA tubes", "edta-4ml", 100, 20)
	if it.SKU != "EDTA-4ML" {
		t.Errorf("expected normalised sku, got %s", it.SKU)
	}

	bad := []CreateRequest{
		{SKU: "X", Unit: "box"},
		{Name: "X", SKU: "X2", Unit: "box", QuantityOnHand: -1},
		{Name: "X", SKU: "X3", Unit: "box", MinStockLevel: -5},
	}
	for _, req := range bad {
		if _, err := svc.CreateItem(ctx, manager, req); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%+v: expected validation error, got %v", req, err)
		}
	}
	if _, err := svc.CreateItem(ctx, manager, CreateRequest{Name: "dup", SKU: "EDTA-4ml", Unit: "box"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict for duplicate sku, got %v", err)
	}

	entries, _ := auditRepo.ListByTarget(ctx, audit.CollectionInventory, it.ID.String())
	if len(entries) != 1 || entries[0].Action != audit.ActionInventoryItemCreated {
		t.Errorf("expected INVENTORY_ITEM_CREATED, got %+v", entries)
	}
}

func TestAdjustQuantity(t *testing.T) {
	svc, auditRepo, _ := newTestService(&notification.RecordingNotifier{})
	ctx := context.Background()
	it := mustCreate(t, svc, "Swabs", "SWAB", 10, 2)

	got, err := svc.AdjustQuantity(ctx, manager, it.ID, AdjustRequest{Delta: -4, Reason: "used"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.QuantityOnHand != 6 {
		t.Errorf("expected 6 on hand, got %d", got.QuantityOnHand)
	}
	if _, err := svc.AdjustQuantity(ctx, manager, it.ID, AdjustRequest{Delta: -7}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict going below zero, got %v", err)
	}
	if cur, _ := svc.GetItem(ctx, it.ID); cur.QuantityOnHand != 6 {
		t.Errorf("rejected adjustment changed quantity to %d", cur.QuantityOnHand)
	}
	if _, err := svc.AdjustQuantity(ctx, manager, it.ID, AdjustRequest{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for zero delta, got %v", err)
	}
	if _, err := svc.AdjustQuantity(ctx, manager, uuid.New(), AdjustRequest{Delta: 1}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	entries, _ := auditRepo.ListByTarget(ctx, audit.CollectionInventory, it.ID.String())
	if len(entries) != 2 || entries[0].Action != audit.ActionInventoryAdjusted {
		t.Errorf("expected one INVENTORY_ADJUSTED entry on top, got %+v", entries)
	}
}

func TestAdjustQuantity_ConcurrentIncrementsAllLand(t *testing.T) {
	svc, _, _ := newTestService(&notification.RecordingNotifier{})
	it := mustCreate(t, svc, "Gloves", "GLOVE-M", 0, 0)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := svc.AdjustQuantity(ctx, manager, it.ID, AdjustRequest{Delta: 2})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cur, _ := svc.GetItem(context.Background(), it.ID); cur.QuantityOnHand != 100 {
		t.Errorf("expected 100 on hand, got %d", cur.QuantityOnHand)
	}
}

func TestCheckLowStock(t *testing.T) {
	notifier := &notification.RecordingNotifier{}
	svc, _, m := newTestService(notifier)
	mustCreate(t, svc, "EDTA tubes", "EDTA", 5, 20)
	mustCreate(t, svc, "Citrate tubes", "CIT", 20, 20)
	mustCreate(t, svc, "Lancets", "LAN", 500, 50)

	items, err := svc.CheckLowStock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].SKU != "CIT" || items[1].SKU != "EDTA" {
		t.Fatalf("expected CIT and EDTA flagged, got %+v", items)
	}
	msgs := notifier.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected one notification per item, got %d", len(msgs))
	}
	if msgs[1].TemplateID != notification.TemplateLowStock || msgs[1].Data["sku"] != "EDTA" {
		t.Errorf("unexpected message %+v", msgs[1])
	}
	if v := testutil.ToFloat64(m.LowStockItems); v != 2 {
		t.Errorf("expected gauge at 2, got %v", v)
	}
}

func TestCheckLowStock_DeliveryFailureIsNotAnError(t *testing.T) {
	svc, _, m := newTestService(&notification.RecordingNotifier{Err: errors.New("redis down")})
	mustCreate(t, svc, "EDTA tubes", "EDTA", 0, 10)
	mustCreate(t, svc, "Swabs", "SWAB", 1, 10)

	items, err := svc.CheckLowStock(context.Background())
	if err != nil {
		t.Fatalf("delivery failures must not fail the check: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
	if v := testutil.ToFloat64(m.NotificationErrors); v != 2 {
		t.Errorf("expected 2 failed deliveries counted, got %v", v)
	}
}
