package providers

import (
	"strings"
	"testing"
)

func TestAugmentProviderError_ConnectionRefusedHint(t *testing.T) {
	msg := augmentProviderError(ProviderOllama, `Post "http://localhost:11434/api/generate": dial tcp [::1]:11434: connect: connection refused`)
	if !strings.Contains(msg, "ollama serve") {
		t.Fatalf("expected ollama serve hint, got %q", msg)
	}
}

func TestAugmentProviderError_MissingModelHint(t *testing.T) {
	msg := augmentProviderError(ProviderOllama, `{"error":"model \"llama3.1:8b\" not found, try pulling it first"}`)
	if !strings.Contains(msg, "ollama pull") {
		t.Fatalf("expected pull hint, got %q", msg)
	}
}

func TestAugmentProviderError_PassesThroughOtherErrors(t *testing.T) {
	if got := augmentProviderError(ProviderOllama, "  boom "); got != "boom" {
		t.Fatalf("expected trimmed passthrough, got %q", got)
	}
}
