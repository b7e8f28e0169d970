package device

import (
	"testing"

	"github.com/glizzus/moshi-cli/internal/audio"
	"github.com/google/go-cmp/cmp"
)

func TestFillPadsWithSilence(t *testing.T) {
	q := audio.NewQueue(0)
	q.Push([]float32{0.1, 0.2, 0.3})

	out := []float32{9, 9, 9, 9, 9}
	fill(out, q)

	if diff := cmp.Diff([]float32{0.1, 0.2, 0.3, 0, 0}, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 0 {
		t.Errorf("expected queue to be drained, %d left", q.Len())
	}
}

func TestFillKeepsRemainderQueued(t *testing.T) {
	q := audio.NewQueue(0)
	q.Push([]float32{1, 2, 3, 4})

	out := make([]float32, 3)
	fill(out, q)

	if diff := cmp.Diff([]float32{1, 2, 3}, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 1 {
		t.Errorf("expected one sample left, got %d", q.Len())
	}
}
