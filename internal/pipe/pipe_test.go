package pipe

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMapAndSink(t *testing.T) {
	nums := []*int{ptr(1), ptr(2), ptr(3)}

	p := New(func() ([]*int, error) { return nums, nil })
	p.Map(func(r *int) (*int, error) {
		doubled := *r * 2
		return &doubled, nil
	})

	var mu sync.Mutex
	var got []int
	err := p.Sink(func(r *int) error {
		mu.Lock()
		got = append(got, *r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Sink returned error: %v", err)
	}

	sum := 0
	for _, v := range got {
		sum += v
	}
	if len(got) != 3 || sum != 12 {
		t.Errorf("got %v, want three doubled values summing to 12", got)
	}
}

func TestFilterDropsNonMatching(t *testing.T) {
	nums := []*int{ptr(1), ptr(2), ptr(3), ptr(4)}

	p := New(func() ([]*int, error) { return nums, nil })
	p.Filter(func(r *int) bool { return *r%2 == 0 })

	var count int32
	err := p.Sink(func(r *int) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Sink returned error: %v", err)
	}
	if count != 2 {
		t.Errorf("got %d results, want 2 (only even numbers)", count)
	}
}

func TestSinkPropagatesSourceError(t *testing.T) {
	wantErr := errors.New("source failed")
	p := New(func() ([]*int, error) { return nil, wantErr })

	err := p.Sink(func(r *int) error { return nil })
	if !errors.Is(err, wantErr) {
		t.Errorf("Sink() error = %v, want %v", err, wantErr)
	}
}

func ptr(i int) *int { return &i }

func TestBatchSumsAcrossCalls(t *testing.T) {
	nums := make([]*int, 0, 25)
	for i := 1; i <= 25; i++ {
		nums = append(nums, ptr(i))
	}

	p := New(func() ([]*int, error) { return nums, nil })
	p.Batch(func(batch []*int) ([]*int, error) {
		sum := 0
		for _, v := range batch {
			sum += *v
		}
		return []*int{ptr(sum)}, nil
	}, WorkerSize[int](1))

	var mu sync.Mutex
	var partialSums []int
	err := p.Sink(func(r *int) error {
		mu.Lock()
		partialSums = append(partialSums, *r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Sink returned error: %v", err)
	}

	total := 0
	for _, v := range partialSums {
		total += v
	}
	if total != 325 {
		t.Errorf("got total %d across %d batches, want 325 (sum 1..25)", total, len(partialSums))
	}
}

func TestBatchPropagatesFnError(t *testing.T) {
	nums := []*int{ptr(1), ptr(2)}
	wantErr := errors.New("batch failed")

	p := New(func() ([]*int, error) { return nums, nil })
	p.Batch(func(batch []*int) ([]*int, error) { return nil, wantErr }, WorkerSize[int](1))

	err := p.Sink(func(r *int) error { return nil })
	if !errors.Is(err, wantErr) {
		t.Errorf("Sink() error = %v, want %v", err, wantErr)
	}
}

func TestChannelEmitsToOutCh(t *testing.T) {
	nums := []*int{ptr(1), ptr(2), ptr(3)}

	p := New(func() ([]*int, error) { return nums, nil })
	p.Channel(func(r *int, stopCh <-chan struct{}, outCh chan<- *int) error {
		doubled := *r * 2
		select {
		case outCh <- &doubled:
		case <-stopCh:
		}
		return nil
	})

	var mu sync.Mutex
	var got []int
	err := p.Sink(func(r *int) error {
		mu.Lock()
		got = append(got, *r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Sink returned error: %v", err)
	}

	sum := 0
	for _, v := range got {
		sum += v
	}
	if len(got) != 3 || sum != 12 {
		t.Errorf("got %v, want three doubled values summing to 12", got)
	}
}

func TestChannelPropagatesFnError(t *testing.T) {
	nums := []*int{ptr(1)}
	wantErr := errors.New("channel stage failed")

	p := New(func() ([]*int, error) { return nums, nil })
	p.Channel(func(r *int, stopCh <-chan struct{}, outCh chan<- *int) error {
		return wantErr
	})

	err := p.Sink(func(r *int) error { return nil })
	if !errors.Is(err, wantErr) {
		t.Errorf("Sink() error = %v, want %v", err, wantErr)
	}
}
