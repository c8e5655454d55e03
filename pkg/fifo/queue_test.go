// SPDX-License-Identifier: MIT
package fifo

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestQueueFIFOOrder(t *testing.T) {
	tests := []struct {
		capacity int
		pushes   int
	}{
		{1, 1},
		{3, 3},
		{100, 50},
		{100, 100},
		{7, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("cap%d_push%d", tt.capacity, tt.pushes), func(t *testing.T) {
			q := New[int](tt.capacity)
			for i := 0; i < tt.pushes; i++ {
				if !q.Push(i) {
					t.Fatalf("Push(%d) failed below capacity", i)
				}
			}
			for i := 0; i < tt.pushes; i++ {
				var got int
				if !q.Pop(&got) {
					t.Fatalf("Pop %d failed, queue should hold %d elements", i, tt.pushes-i)
				}
				if got != i {
					t.Errorf("Pop %d = %d, want %d", i, got, i)
				}
			}
			var v int
			if q.Pop(&v) {
				t.Errorf("Pop on drained queue returned %d", v)
			}
		})
	}
}

func TestQueuePushFull(t *testing.T) {
	q := New[int](3)
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}

	if q.Push(4) {
		t.Fatal("Push on full queue succeeded")
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d after failed push, want 3", q.Len())
	}

	var got int
	if !q.Pop(&got) || got != 1 {
		t.Errorf("Pop after overflow = %d, want oldest element 1", got)
	}

	// A slot was freed, so the next push must succeed and land last.
	if !q.Push(5) {
		t.Fatal("Push after Pop failed")
	}
	for _, want := range []int{2, 3, 5} {
		if !q.Pop(&got) || got != want {
			t.Errorf("Pop = %d, want %d", got, want)
		}
	}
}

func TestQueuePopEmptyLeavesOutput(t *testing.T) {
	q := New[int](4)
	out := 42
	if q.Pop(&out) {
		t.Fatal("Pop on empty queue succeeded")
	}
	if out != 42 {
		t.Errorf("Pop on empty queue modified output: %d", out)
	}
}

func TestQueueWrapAround(t *testing.T) {
	q := New[int](5)
	next := 0
	want := 0
	for lap := 0; lap < 40; lap++ {
		for i := 0; i < 3; i++ {
			if !q.Push(next) {
				t.Fatalf("lap %d: Push(%d) failed", lap, next)
			}
			next++
		}
		for i := 0; i < 3; i++ {
			var got int
			if !q.Pop(&got) || got != want {
				t.Fatalf("lap %d: Pop = %d, want %d", lap, got, want)
			}
			want++
		}
	}
}

func TestQueueCapacityClamp(t *testing.T) {
	for _, c := range []int{-5, 0} {
		q := New[int](c)
		if q.Cap() != 1 {
			t.Errorf("New(%d).Cap() = %d, want 1", c, q.Cap())
		}
	}
	if New[int](100).Cap() != 100 {
		t.Error("capacity 100 should not be rounded")
	}
}

func TestQueueDrain(t *testing.T) {
	q := New[int](10)
	for i := 0; i < 6; i++ {
		q.Push(i)
	}
	if n := q.Drain(); n != 6 {
		t.Errorf("Drain() = %d, want 6", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Drain, want 0", q.Len())
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	const (
		producers   = 8
		perProducer = 200
	)
	q := New[int](producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Push(p*perProducer + i) {
					t.Errorf("producer %d: Push failed below capacity", p)
				}
			}
		}(p)
	}
	wg.Wait()

	got := make([]int, 0, producers*perProducer)
	lastSeen := make(map[int]int)
	var v int
	for q.Pop(&v) {
		p := v / perProducer
		if prev, ok := lastSeen[p]; ok && v <= prev {
			t.Errorf("producer %d: value %d popped after %d", p, v, prev)
		}
		lastSeen[p] = v
		got = append(got, v)
	}

	if len(got) != producers*perProducer {
		t.Fatalf("popped %d values, want %d", len(got), producers*perProducer)
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicated value at %d: %d", i, v)
		}
	}
}

func TestQueueConcurrentPushPop(t *testing.T) {
	const total = 5000
	q := New[int](16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if q.Push(i) {
				i++
			}
		}
	}()

	want := 0
	var v int
	for want < total {
		if q.Pop(&v) {
			if v != want {
				t.Fatalf("Pop = %d, want %d", v, want)
			}
			want++
		}
	}
	wg.Wait()
}

func TestQueueHotPathAllocations(t *testing.T) {
	q := New[int](8)
	allocs := testing.AllocsPerRun(100, func() {
		q.Push(1)
		var v int
		q.Pop(&v)
	})
	if allocs > 0 {
		t.Errorf("Push/Pop allocated: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkQueuePushPop(b *testing.B) {
	q := New[int](100)
	var v int
	b.ReportAllocs()
	for b.Loop() {
		q.Push(1)
		q.Pop(&v)
	}
}
