package capture

import (
	"context"
	"errors"
	"testing"
)

func TestStubQualityClamping(t *testing.T) {
	s := NewStub()
	if s.Quality() != 75 {
		t.Fatalf("default quality = %d, want 75", s.Quality())
	}
	s.SetQuality(0)
	if s.Quality() != 1 {
		t.Fatalf("SetQuality(0) = %d, want clamped to 1", s.Quality())
	}
	s.SetQuality(255)
	if s.Quality() != 100 {
		t.Fatalf("SetQuality(255) = %d, want clamped to 100", s.Quality())
	}
}

func TestStubCaptureReportsNotImplemented(t *testing.T) {
	s := NewStub()
	if _, err := s.Capture(context.Background()); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Capture: got %v, want ErrNotImplemented", err)
	}
}
