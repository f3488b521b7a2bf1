package service

import (
	"testing"

	"github.com/lancejames221b/haivemind/internal/domain/memory"
)

func TestFormatGuideAttachesReferenceOnlyOnce(t *testing.T) {
	fg := NewFormatGuide()

	ref, attach := fg.OnMemoryReturningCall("session-1")
	if !attach || ref == "" {
		t.Fatal("expected the first call to attach the format reference")
	}

	ref, attach = fg.OnMemoryReturningCall("session-1")
	if attach || ref != "" {
		t.Fatal("expected the second call in the same session not to attach the reference again")
	}
}

func TestFormatGuideEmptySessionNeverAttaches(t *testing.T) {
	fg := NewFormatGuide()
	if _, attach := fg.OnMemoryReturningCall(""); attach {
		t.Fatal("expected no attachment for an empty session id")
	}
}

func TestFormatGuideStampVersionTracksFirstCall(t *testing.T) {
	fg := NewFormatGuide()

	if got := fg.StampVersion("session-1"); got != memory.FormatV1 {
		t.Fatalf("expected v1 before the format reference has been sent, got %s", got)
	}

	fg.OnMemoryReturningCall("session-1")

	if got := fg.StampVersion("session-1"); got != memory.FormatV2 {
		t.Fatalf("expected v2 after the format reference has been sent, got %s", got)
	}
}

func TestFormatGuideAccessStatsCountsCalls(t *testing.T) {
	fg := NewFormatGuide()
	fg.OnMemoryReturningCall("session-1")
	fg.OnMemoryReturningCall("session-1")
	fg.OnMemoryReturningCall("session-2")

	if got := fg.AccessStats("session-1"); got != 2 {
		t.Fatalf("expected 2 accesses for session-1, got %d", got)
	}
	if got := fg.AccessStats("session-2"); got != 1 {
		t.Fatalf("expected 1 access for session-2, got %d", got)
	}
	if got := fg.AccessStats("unknown"); got != 0 {
		t.Fatalf("expected 0 accesses for an unknown session, got %d", got)
	}
}

func TestFormatGuideGetFormatGuideReturnsReference(t *testing.T) {
	fg := NewFormatGuide()
	if fg.GetFormatGuide() == "" {
		t.Fatal("expected a non-empty format guide reference")
	}
}
