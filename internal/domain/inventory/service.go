package inventory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/metrics"
	"github.com/ehr/lims/internal/platform/notification"
)

type Service struct {
	repo    Repository
	audit   *audit.Recorder
	notify  *notification.Dispatcher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, rec *audit.Recorder, notify *notification.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, audit: rec, notify: notify, logger: logger, now: time.Now}
}

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func itemTarget(id uuid.UUID) audit.Target {
	return audit.Target{Collection: audit.CollectionInventory, ID: id.String()}
}

func (s *Service) CreateItem(ctx context.Context, actor audit.Actor, req CreateRequest) (*Item, error) {
	name, sku, unit := strings.TrimSpace(req.Name), strings.ToUpper(strings.TrimSpace(req.SKU)), strings.TrimSpace(req.Unit)
	if name == "" || sku == "" || unit == "" {
		return nil, apperr.Validation("name, sku and unit are required")
	}
	if req.QuantityOnHand < 0 || req.MinStockLevel < 0 {
		return nil, apperr.Validation("quantities cannot be negative")
	}
	now := s.now().UTC()
	it := &Item{
		ID:             uuid.New(),
		Name:           name,
		SKU:            sku,
		Unit:           unit,
		QuantityOnHand: req.QuantityOnHand,
		MinStockLevel:  req.MinStockLevel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionInventoryItemCreated, itemTarget(it.ID), audit.Details{
		"sku":              it.SKU,
		"quantity_on_hand": it.QuantityOnHand,
		"min_stock_level":  it.MinStockLevel,
	})
	return it, nil
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, limit, offset int) ([]*Item, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// AdjustQuantity applies a signed stock movement. Consumption is negative.
func (s *Service) AdjustQuantity(ctx context.Context, actor audit.Actor, id uuid.UUID, req AdjustRequest) (*Item, error) {
	if req.Delta == 0 {
		return nil, apperr.Validation("delta must be non-zero")
	}
	it, err := s.repo.Adjust(ctx, id, req.Delta, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionInventoryAdjusted, itemTarget(it.ID), audit.Details{
		"sku":              it.SKU,
		"delta":            req.Delta,
		"reason":           strings.TrimSpace(req.Reason),
		"quantity_on_hand": it.QuantityOnHand,
	})
	return it, nil
}

// CheckLowStock returns every item at or below its minimum and sends one
// notification per item. Delivery failures are logged and counted; the
// check itself still succeeds.
func (s *Service) CheckLowStock(ctx context.Context) ([]*Item, error) {
	items, err := s.repo.LowStock(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetLowStock(len(items))
	if s.notify == nil {
		return items, nil
	}
	for _, it := range items {
		msg, err := s.notify.Dispatch(ctx, notification.TemplateLowStock, map[string]string{
			"item_id":  it.ID.String(),
			"name":     it.Name,
			"sku":      it.SKU,
			"quantity": strconv.Itoa(it.QuantityOnHand),
			"unit":     it.Unit,
			"minimum":  strconv.Itoa(it.MinStockLevel),
		})
		if err != nil {
			s.metrics.NotificationFailed()
			s.logger.Error().Err(err).
				Str("notification_id", msg.ID).
				Str("sku", it.SKU).
				Int("quantity_on_hand", it.QuantityOnHand).
				Msg("low-stock notification not delivered")
		}
	}
	return items, nil
}
