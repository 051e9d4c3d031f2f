package notification

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisNotifier_ChannelPerTemplate(t *testing.T) {
	r := NewRedisNotifierFromClient(nil, "lims:notify")
	if got := r.Channel(TemplateLowStock); got != "lims:notify:low-stock" {
		t.Errorf("unexpected low-stock channel %q", got)
	}
	if got := r.Channel(TemplateResultsHeld); got != "lims:notify:results-held" {
		t.Errorf("unexpected results-held channel %q", got)
	}
}

func TestRedisNotifier_PublishFailureIsReturned(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisNotifierFromClient(client, "lims:notify")
	defer r.Close()

	err := r.Notify(context.Background(), Message{ID: "n-1", TemplateID: TemplateResultsHeld})
	if err == nil || !strings.Contains(err.Error(), "results-held") {
		t.Errorf("expected publish error naming the template, got %v", err)
	}
}

// Needs a running Redis: LIMS_TEST_REDIS_URL=redis://localhost:6379/0.
func TestRedisNotifier_RoundTrip(t *testing.T) {
	url := os.Getenv("LIMS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LIMS_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewRedisNotifier(ctx, url, "lims:test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	sub := r.Subscribe(ctx, TemplateLowStock)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := r.Notify(ctx, Message{ID: "n-1", TemplateID: TemplateResultsHeld, Subject: "held"}); err != nil {
		t.Fatalf("notify results-held: %v", err)
	}
	if err := r.Notify(ctx, Message{ID: "n-2", TemplateID: TemplateLowStock, Subject: "Low stock: EDTA tube"}); err != nil {
		t.Fatalf("notify low-stock: %v", err)
	}

	select {
	case m := <-sub.Channel():
		if m.Channel != "lims:test:low-stock" {
			t.Errorf("unexpected channel %q", m.Channel)
		}
		var got Message
		if err := json.Unmarshal([]byte(m.Payload), &got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got.ID != "n-2" {
			t.Errorf("expected only the low-stock message, got %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
