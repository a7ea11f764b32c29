package siglog

import (
	"path/filepath"
	"testing"
	"time"

	"signal-recorder/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "signals.db"))
}

func TestAppendList_RoundTrip(t *testing.T) {
	s := testStore(t)

	at := time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local)
	in := []model.Signal{
		model.NewSignal(model.LabelBuy, at),
		model.NewSignal(model.LabelHold, at.Add(time.Minute)),
		model.NewSignal(model.LabelNoData, at.Add(2*time.Minute)),
		model.NewSignal(model.LabelSell, at.Add(3*time.Minute)),
	}
	for _, sig := range in {
		if err := s.Append(sig); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("list length: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("row %d: got %+v, want %+v", i, got[i], in[i])
		}
	}
}

func TestList_EmptyLog(t *testing.T) {
	s := testStore(t)
	got, err := s.List()
	if err != nil {
		t.Fatalf("list on empty log: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %d rows", len(got))
	}
}

// Records must survive the store handle being thrown away: durability lives
// in the file, not the Store.
func TestAppend_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.db")

	s1 := New(path)
	sig := model.NewSignal(model.LabelBuy, time.Now())
	if err := s1.Append(sig); err != nil {
		t.Fatalf("append: %v", err)
	}

	s2 := New(path)
	got, err := s2.List()
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(got) != 1 || got[0] != sig {
		t.Errorf("after reopen: got %+v, want [%+v]", got, sig)
	}
}

func TestLatestAndCount(t *testing.T) {
	s := testStore(t)

	if _, ok, err := s.Latest(); err != nil || ok {
		t.Fatalf("latest on empty log: ok=%v err=%v, want ok=false err=nil", ok, err)
	}
	if n, err := s.Count(); err != nil || n != 0 {
		t.Fatalf("count on empty log: n=%d err=%v", n, err)
	}

	at := time.Date(2026, 2, 26, 11, 0, 0, 0, time.Local)
	for i, label := range []model.Label{model.LabelHold, model.LabelBuy, model.LabelSell} {
		if err := s.Append(model.NewSignal(label, at.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	sig, ok, err := s.Latest()
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if sig.Label != model.LabelSell {
		t.Errorf("latest label: got %q, want %q", sig.Label, model.LabelSell)
	}
	if n, err := s.Count(); err != nil || n != 3 {
		t.Errorf("count: n=%d err=%v, want 3", n, err)
	}
}

// Identical signals are all kept: the log has no dedupe and no unique key.
func TestAppend_DuplicatesKept(t *testing.T) {
	s := testStore(t)
	sig := model.NewSignal(model.LabelHold, time.Date(2026, 2, 26, 12, 0, 0, 0, time.Local))
	for i := 0; i < 3; i++ {
		if err := s.Append(sig); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("duplicate rows: got %d, want 3", len(got))
	}
}

func TestPing_CreatesFile(t *testing.T) {
	s := testStore(t)
	if err := s.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	// A second ping against the now-existing file must also succeed.
	if err := s.Ping(); err != nil {
		t.Fatalf("second ping: %v", err)
	}
}

func TestAppend_BadPathFailsLoudly(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing-dir", "signals.db"))
	if err := s.Append(model.NewSignal(model.LabelBuy, time.Now())); err == nil {
		t.Fatal("expected error appending under a missing directory")
	}
}
