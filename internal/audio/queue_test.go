package audio_test

import (
	"sync"
	"testing"

	"github.com/glizzus/moshi-cli/internal/audio"
	"github.com/google/go-cmp/cmp"
)

func TestQueueDrainAll(t *testing.T) {
	q := audio.NewQueue(0)
	q.Push([]float32{1, 2})
	q.Push([]float32{3})

	if diff := cmp.Diff([]float32{1, 2, 3}, q.DrainAll()); diff != "" {
		t.Errorf("drained samples mismatch (-want +got):\n%s", diff)
	}
	if got := q.DrainAll(); len(got) != 0 {
		t.Errorf("expected empty drain after drain, got %v", got)
	}
}

func TestQueuePushCopies(t *testing.T) {
	q := audio.NewQueue(0)
	buf := []float32{1, 2, 3}
	q.Push(buf)
	buf[0] = 42

	if got := q.DrainAll()[0]; got != 1 {
		t.Errorf("queue kept a reference to the caller's buffer, got %v", got)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := audio.NewQueue(4)
	q.Push([]float32{1, 2, 3})
	q.Push([]float32{4, 5, 6})

	if diff := cmp.Diff([]float32{3, 4, 5, 6}, q.DrainAll()); diff != "" {
		t.Errorf("drained samples mismatch (-want +got):\n%s", diff)
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("expected 2 dropped samples, got %d", got)
	}
}

func TestQueueRead(t *testing.T) {
	q := audio.NewQueue(0)
	q.Push([]float32{1, 2, 3})

	dst := make([]float32, 2)
	if n := q.Read(dst); n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}
	if diff := cmp.Diff([]float32{1, 2}, dst); diff != "" {
		t.Errorf("read samples mismatch (-want +got):\n%s", diff)
	}

	dst = make([]float32, 4)
	if n := q.Read(dst); n != 1 {
		t.Fatalf("expected 1 remaining sample, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueConcurrentPushDrain(t *testing.T) {
	q := audio.NewQueue(0)
	const pushers, perPusher = 8, 1000

	var wg sync.WaitGroup
	wg.Add(pushers)
	for range pushers {
		go func() {
			defer wg.Done()
			for range perPusher {
				q.Push([]float32{0.5})
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			total += len(q.DrainAll())
			if total != pushers*perPusher {
				t.Errorf("expected %d samples, got %d", pushers*perPusher, total)
			}
			return
		default:
			total += len(q.DrainAll())
		}
	}
}
