package llmservice

import (
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

func TestMessages(t *testing.T) {
	msgs := Messages("be brief", "what is covered?")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != llms.ChatMessageTypeSystem || msgs[1].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("roles: %s %s", msgs[0].Role, msgs[1].Role)
	}
	if got := Messages("", "q"); len(got) != 1 {
		t.Fatalf("empty system prompt should be skipped, got %d", len(got))
	}
}

func TestFirstChoice(t *testing.T) {
	if _, err := firstChoice(&llms.ContentResponse{}); !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
	got, err := firstChoice(&llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "yes"}, {Content: "no"}}})
	if err != nil || got != "yes" {
		t.Fatalf("got %q %v", got, err)
	}
}
