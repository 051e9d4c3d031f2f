package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTemplateEngine_LowStock(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateLowStock, map[string]string{
		"name": "EDTA tube", "sku": "TUB-EDTA", "quantity": "3", "unit": "box", "minimum": "5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Low stock: EDTA tube" {
		t.Errorf("unexpected subject %q", subject)
	}
	if body != "EDTA tube (TUB-EDTA) is at 3 box, at or below the minimum of 5." {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeyLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{ID: "x", Subject: "{{a}}", Body: "{{a}} {{b}}"})
	_, body, err := e.Render("x", map[string]string{"a": "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "1 {{b}}" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestDispatcher_Delivers(t *testing.T) {
	rec := &RecordingNotifier{}
	d := NewDispatcher(rec, nil)
	msg, err := d.Dispatch(context.Background(), TemplateResultsHeld, map[string]string{
		"accession": "ACC-2026-000001", "order_id": "ORD-2026-0000001", "held": "1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := rec.Messages()
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("expected the dispatched message to be recorded, got %+v", got)
	}
	if !strings.Contains(got[0].Subject, "ACC-2026-000001") {
		t.Errorf("unexpected subject %q", got[0].Subject)
	}
}

func TestDispatcher_ReturnsDeliveryError(t *testing.T) {
	rec := &RecordingNotifier{Err: errors.New("broker down")}
	d := NewDispatcher(rec, nil)
	msg, err := d.Dispatch(context.Background(), TemplateLowStock, map[string]string{"name": "Gloves"})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if msg.Subject != "Low stock: Gloves" {
		t.Errorf("expected rendered message alongside error, got %+v", msg)
	}
	if len(rec.Messages()) != 0 {
		t.Error("nothing should be recorded on failure")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))
	if err := n.Notify(context.Background(), Message{ID: "m1", TemplateID: TemplateLowStock, Body: "low"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"template":"low-stock"`) {
		t.Errorf("expected template in log line, got %s", buf.String())
	}
}

func TestNewRedisNotifier_BadURL(t *testing.T) {
	if _, err := NewRedisNotifier(context.Background(), "not-a-url", "alerts"); err == nil {
		t.Error("expected error for malformed redis url")
	}
}
