package email

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRenderKnownTemplates(t *testing.T) {
	for name := range subjects {
		subject, body, err := Render(name, map[string]any{"name": "Kenji"})
		if err != nil {
			t.Fatalf("render %s: %v", name, err)
		}
		if subject == "" {
			t.Fatalf("expected subject for %s", name)
		}
		if !strings.Contains(body, "Kenji") {
			t.Fatalf("expected name in %s body, got %q", name, body)
		}
	}
}

func TestRenderSubjectOverride(t *testing.T) {
	subject, _, err := Render("renewal_notice", map[string]any{"subject": "Custom"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Custom" {
		t.Fatalf("expected override, got %q", subject)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, _, err := Render("missing", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestSendRequiresRecipients(t *testing.T) {
	p := NewSMTP(Config{Host: "localhost", Port: 25})
	if err := p.Send(context.Background(), nil, "s", "b"); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}
