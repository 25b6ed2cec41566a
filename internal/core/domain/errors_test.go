package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIngestionError_Unwrap(t *testing.T) {
	missing := &MissingBenefitDataError{
		Document: "kb/dental.md",
		Category: CategoryDental,
		Service:  "ניקוי שיניים",
		HMO:      HMOMaccabi,
		Tier:     TierGold,
	}
	err := fmt.Errorf("build: %w", &IngestionError{
		Document: "kb/dental.md",
		Category: CategoryDental,
		Stage:    StageChunk,
		Err:      missing,
	})

	var ie *IngestionError
	if !errors.As(err, &ie) {
		t.Fatal("expected IngestionError")
	}
	if ie.Stage != StageChunk {
		t.Errorf("expected stage chunk, got %s", ie.Stage)
	}

	var me *MissingBenefitDataError
	if !errors.As(err, &me) {
		t.Fatal("expected MissingBenefitDataError in chain")
	}
	if me.Tier != TierGold {
		t.Errorf("expected tier gold, got %s", me.Tier)
	}
	if !strings.Contains(err.Error(), "kb/dental.md") {
		t.Errorf("expected document path in message, got %q", err.Error())
	}
}

func TestUpstreamError(t *testing.T) {
	err := &UpstreamError{Service: "llm", StatusCode: 429, Message: "rate limited", Transient: true}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status in message, got %q", err.Error())
	}

	transport := &UpstreamError{Service: "embedding", Message: "connection refused", Transient: true}
	if strings.Contains(transport.Error(), "status") {
		t.Errorf("expected no status for transport error, got %q", transport.Error())
	}
}

func TestIsTransientStatus(t *testing.T) {
	for code, want := range map[int]bool{
		400: false, 401: false, 404: false, 408: true, 429: true, 500: true, 503: true,
	} {
		if got := IsTransientStatus(code); got != want {
			t.Errorf("IsTransientStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("hmo", "unknown hmo")
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected ValidationError to match ErrInvalidInput")
	}
	if err.Error() != "hmo: unknown hmo" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestErrorCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewValidationError("tier", "bad"), ErrorCategoryInvalidRequest},
		{fmt.Errorf("chat: %w", ErrProfileIncomplete), ErrorCategoryInvalidRequest},
		{fmt.Errorf("retrieve: %w: %w", ErrIndexUnavailable, errors.New("dial tcp")), ErrorCategoryIndex},
		{fmt.Errorf("complete failed: %w", ErrUpstreamUnavailable), ErrorCategoryUnavailable},
		{ErrServiceUnavailable, ErrorCategoryUnavailable},
		{errors.New("nil pointer"), ErrorCategoryInternal},
	}

	for _, tt := range tests {
		if got := ErrorCategory(tt.err); got != tt.want {
			t.Errorf("ErrorCategory(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
