package store

import (
	"path/filepath"
	"testing"

	"github.com/MiFaceDEV/miface/internal/session"
)

func record(score float64) session.SessionRecord {
	return session.SessionRecord{
		ID:          "test",
		Timestamp:   "2026-01-01T00:00:00Z",
		Type:        session.ModeHold,
		DurationS:   10,
		TremorScore: score,
	}
}

func TestStore_AppendAndAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := record(42.5)
	if err := s.Append(want); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0] != want {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got[0], want)
	}
}

func TestStore_AllOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %d", len(got))
	}
}

func TestStore_RecentOrdersNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "sessions.json"))

	for i := 0; i < 3; i++ {
		_ = s.Append(record(float64(i)))
	}

	hist, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(hist.Sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(hist.Sessions))
	}
	if hist.Sessions[0].TremorScore != 2 || hist.Sessions[2].TremorScore != 0 {
		t.Errorf("expected newest-first ordering, got %+v", hist.Sessions)
	}
}

func TestStore_RecentRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "sessions.json"))
	for i := 0; i < 5; i++ {
		_ = s.Append(record(float64(i)))
	}
	hist, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(hist.Sessions) != 2 {
		t.Errorf("expected limit=2 to cap results, got %d", len(hist.Sessions))
	}
}

func TestStore_TrendComputation(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "sessions.json"))

	scores := []float64{}
	for i := 0; i < 5; i++ {
		scores = append(scores, 30)
	}
	for i := 0; i < 5; i++ {
		scores = append(scores, 60)
	}
	scores = append(scores, 90)

	for _, sc := range scores {
		_ = s.Append(record(sc))
	}

	hist, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if hist.Trend != TrendImproving {
		t.Errorf("expected trend=improving, got %s", hist.Trend)
	}
	if hist.TrendPercent != 120 {
		t.Errorf("expected trendPercent=120, got %v", hist.TrendPercent)
	}
}

func TestStore_TrendStableWithInsufficientHistory(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "sessions.json"))
	for i := 0; i < 3; i++ {
		_ = s.Append(record(50))
	}
	hist, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if hist.Trend != TrendStable {
		t.Errorf("expected trend=stable with <10 records, got %s", hist.Trend)
	}
}
