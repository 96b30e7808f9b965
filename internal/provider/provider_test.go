package provider

import (
	"testing"

	"github.com/dshills/stategraph/graph/model/anthropic"
	"github.com/dshills/stategraph/graph/model/google"
	"github.com/dshills/stategraph/graph/model/openai"
	"github.com/dshills/stategraph/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		check    func(any) bool
	}{
		{"openai", func(m any) bool { _, ok := m.(*openai.ChatModel); return ok }},
		{"anthropic", func(m any) bool { _, ok := m.(*anthropic.ChatModel); return ok }},
		{"google", func(m any) bool { _, ok := m.(*google.ChatModel); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			m, err := New(&config.Config{Provider: tt.provider, APIKey: "k"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !tt.check(m) {
				t.Errorf("got %T", m)
			}
		})
	}

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := New(&config.Config{Provider: "cohere"}); err == nil {
			t.Fatal("expected error")
		}
	})
}
