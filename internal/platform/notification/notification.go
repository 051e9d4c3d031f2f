// Package notification renders and delivers operational alerts such as
// low-stock warnings. Delivery is fire-and-forget: callers log failures and
// never retry inside the triggering call.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one rendered notification.
type Message struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Notifier delivers a rendered message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Template IDs.
const (
	TemplateLowStock    = "low-stock"
	TemplateResultsHeld = "results-held"
)

type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.RegisterTemplate(Template{
		ID:      TemplateLowStock,
		Subject: "Low stock: {{name}}",
		Body:    "{{name}} ({{sku}}) is at {{quantity}} {{unit}}, at or below the minimum of {{minimum}}.",
	})
	e.RegisterTemplate(Template{
		ID:      TemplateResultsHeld,
		Subject: "Results held for review: {{accession}}",
		Body:    "Sample {{accession}} on order {{order_id}} has {{held}} test(s) awaiting manual verification.",
	})
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Keys absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Dispatcher renders a template and hands the result to a Notifier.
type Dispatcher struct {
	notifier  Notifier
	templates *TemplateEngine
	now       func() time.Time
}

func NewDispatcher(n Notifier, tpl *TemplateEngine) *Dispatcher {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Dispatcher{notifier: n, templates: tpl, now: time.Now}
}

// Dispatch returns the message it attempted to deliver even when delivery
// fails, so callers can log what was lost.
func (d *Dispatcher) Dispatch(ctx context.Context, templateID string, data map[string]string) (Message, error) {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return Message{}, fmt.Errorf("render template: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Subject:    subject,
		Body:       body,
		Data:       data,
		CreatedAt:  d.now().UTC(),
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		return msg, fmt.Errorf("deliver %s notification: %w", templateID, err)
	}
	return msg, nil
}

// RecordingNotifier keeps delivered messages in memory. Err, when set, is
// returned from every call and nothing is recorded.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *RecordingNotifier) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *RecordingNotifier) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
