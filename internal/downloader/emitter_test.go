package downloader

import (
	"testing"
	"testing/synctest"
	"time"

	"nagare/internal/entity"
)

func collect(e *emitter) []entity.ProgressEvent {
	var got []entity.ProgressEvent

	for {
		select {
		case ev := <-e.out:
			got = append(got, ev)
		default:
			return got
		}
	}
}

func TestEmitterThrottle(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := newEmitter(16, 250*time.Millisecond)

		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 0})
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 10})
		e.emit(entity.ProgressEvent{ID: "b", Status: entity.StatusDownloading, Progress: 5})

		time.Sleep(300 * time.Millisecond)
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 20})
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 30})
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusCompleted, Progress: 100})

		got := collect(e)

		want := []int{0, 5, 20, 100}
		if len(got) != len(want) {
			t.Fatalf("events = %+v, want progress %v", got, want)
		}

		for i, ev := range got {
			if ev.Progress != want[i] {
				t.Errorf("event %d progress = %d, want %d", i, ev.Progress, want[i])
			}
		}
	})
}

func TestEmitterStatusChangePasses(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := newEmitter(16, time.Second)

		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 100})
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusConverting, Progress: 0})
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusConverting, Progress: 50})
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusFailed, Error: "boom"})

		got := collect(e)
		if len(got) != 3 {
			t.Fatalf("events = %+v, want 3", got)
		}

		if got[1].Status != entity.StatusConverting || got[2].Status != entity.StatusFailed {
			t.Errorf("events = %+v", got)
		}
	})
}

func TestEmitterDropsWhenFull(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := newEmitter(1, time.Millisecond)

		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 1})
		time.Sleep(time.Millisecond)
		e.emit(entity.ProgressEvent{ID: "a", Status: entity.StatusDownloading, Progress: 2})

		if got := collect(e); len(got) != 1 || got[0].Progress != 1 {
			t.Errorf("events = %+v, want only the first", got)
		}
	})
}
