package services_test

import (
	"errors"
	"fmt"
	"testing"

	"vodwatch/internal/services"
)

func TestWrapPreservesMarkerAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrTransient, "transcoder", "fetch status", "ext-1", cause)

	if !services.IsTransient(err) {
		t.Fatalf("expected transient classification for %v", err)
	}
	if services.IsPermanent(err) {
		t.Fatalf("unexpected permanent classification for %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive")
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "transcoder", "fetch status", "", nil)
	if !services.IsTransient(err) {
		t.Fatalf("nil marker should default to transient, got %v", err)
	}
}

func TestWrapSurvivesFurtherWrapping(t *testing.T) {
	err := services.Wrap(services.ErrPermanent, "transcoder", "fetch status", "job unknown", nil)
	outer := fmt.Errorf("poll job abc: %w", err)
	if !services.IsPermanent(outer) {
		t.Fatalf("expected permanent classification through wrapping, got %v", outer)
	}
}
