package export

import (
	"errors"
	"testing"
	"time"
)

func TestHub_SubscribeFiltersByJob(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, cancel := hub.Subscribe("a")
	defer cancel()

	hub.Track("b", KindExport).Begin(StateExporting)
	hub.Track("a", KindImport).ImportProgress(5, 0, 10, 2.5)
	hub.Flush()

	select {
	case s := <-ch:
		if s.JobID != "a" || s.State != StateImporting || s.ImportProgress != 0.5 || s.ETASeconds != 2.5 {
			t.Errorf("received %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
	select {
	case s := <-ch:
		t.Errorf("unexpected update %+v", s)
	default:
	}

	if cur := hub.Current(); cur.JobID != "a" {
		t.Errorf("Current() = %+v, want job a", cur)
	}
}

func TestHub_SlowSubscriberKeepsLatest(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, cancel := hub.Subscribe("")
	defer cancel()

	tr := hub.Track("job", KindExport)
	for i := 1; i <= 50; i++ {
		tr.ExportProgress(float64(i) / 50)
	}
	tr.Fail(errors.New("boom"))
	hub.Flush()

	var last Status
	for len(ch) > 0 {
		last = <-ch
	}
	if last.State != StateFailed || last.Error != "boom" {
		t.Errorf("last delivered = %+v, want failed", last)
	}
	if last.ExportProgress != 1 {
		t.Errorf("ExportProgress kept = %v, want 1", last.ExportProgress)
	}
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe("")
	hub.Close()
	hub.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	// updates after close are dropped without blocking
	hub.Track("x", KindExport).Complete("out.mp4")
	hub.Flush()

	late, lateCancel := hub.Subscribe("x")
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Error("subscription after Close delivered an update")
	}
}

func TestTracker_NilIsNoop(t *testing.T) {
	var tr *Tracker
	tr.Begin(StateExporting)
	tr.ExportProgress(0.5)
	tr.Complete("x")
}

func TestTracker_BeginResets(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	tr := hub.Track("job", KindExport)
	tr.Fail(errors.New("first attempt"))
	tr.Begin(StateExporting)
	hub.Flush()

	s, ok := hub.Snapshot("job")
	if !ok || s.State != StateExporting || s.Error != "" || s.Kind != KindExport {
		t.Errorf("after Begin = %+v", s)
	}
	if !StateCompleted.Terminal() || StateUnifying.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestTracker_ImportProgressCountsFailures(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, cancel := hub.Subscribe("imp")
	defer cancel()

	hub.Track("imp", KindImport).ImportProgress(48, 2, 50, 0)
	hub.Flush()

	select {
	case s := <-ch:
		if s.ImportProgress != 1 {
			t.Errorf("ImportProgress = %v, want 1 with 48 extracted and 2 dropped", s.ImportProgress)
		}
		if s.Extracted != 48 || s.Failed != 2 {
			t.Errorf("counts = %d/%d, want 48/2", s.Extracted, s.Failed)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}
