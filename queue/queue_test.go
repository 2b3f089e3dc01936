package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/hb9tf/iqdump/iq"
)

func TestFIFOThenShutdown(t *testing.T) {
	q := New(0)
	for i := 0; i < 5; i++ {
		if err := q.Push(&iq.Batch{Seq: uint64(i)}); err != nil {
			t.Fatalf("Push(%d) error: %s", i, err)
		}
	}
	q.Shutdown()
	if got := q.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	for i := 0; i < 5; i++ {
		m := q.Pop()
		if m.Shutdown {
			t.Fatalf("got shutdown before batch %d", i)
		}
		if m.Batch.Seq != uint64(i) {
			t.Fatalf("Pop() returned batch %d, want %d", m.Batch.Seq, i)
		}
	}
	if m := q.Pop(); !m.Shutdown {
		t.Fatalf("expected shutdown message, got batch %+v", m.Batch)
	}
	// The marker stays in place.
	if m := q.Pop(); !m.Shutdown {
		t.Fatal("expected shutdown message on repeated Pop")
	}
}

func TestPushAfterShutdown(t *testing.T) {
	q := New(0)
	q.Shutdown()
	q.Shutdown()
	if err := q.Push(&iq.Batch{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push() after shutdown = %v, want ErrClosed", err)
	}
	if m := q.Pop(); !m.Shutdown || m.Batch != nil {
		t.Fatalf("Pop() = %+v, want bare shutdown", m)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(0)
	got := make(chan Message)
	go func() {
		got <- q.Pop()
	}()

	select {
	case m := <-got:
		t.Fatalf("Pop() returned early: %+v", m)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(&iq.Batch{Seq: 42})
	select {
	case m := <-got:
		if m.Batch == nil || m.Batch.Seq != 42 {
			t.Fatalf("Pop() = %+v, want batch 42", m)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after Push")
	}
}

func TestBoundedPushBlocks(t *testing.T) {
	q := New(1)
	if err := q.Push(&iq.Batch{Seq: 1}); err != nil {
		t.Fatal(err)
	}
	pushed := make(chan error)
	go func() {
		pushed <- q.Push(&iq.Batch{Seq: 2})
	}()

	select {
	case <-pushed:
		t.Fatal("Push() into full queue did not block")
	case <-time.After(20 * time.Millisecond):
	}

	if m := q.Pop(); m.Batch.Seq != 1 {
		t.Fatalf("Pop() = %d, want 1", m.Batch.Seq)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("Push() error: %s", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push() did not unblock after Pop")
	}
}

func TestOnLen(t *testing.T) {
	q := New(0)
	var lens []int
	q.OnLen = func(n int) { lens = append(lens, n) }
	q.Push(&iq.Batch{})
	q.Push(&iq.Batch{})
	q.Pop()
	q.Shutdown()
	q.Pop()
	want := []int{1, 2, 1, 1, 0}
	if len(lens) != len(want) {
		t.Fatalf("OnLen calls = %v, want %v", lens, want)
	}
	for i := range want {
		if lens[i] != want[i] {
			t.Fatalf("OnLen calls = %v, want %v", lens, want)
		}
	}
}
