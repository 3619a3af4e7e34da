package hooks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func models(batch []Event) []string {
	out := make([]string, len(batch))
	for i, ev := range batch {
		out[i] = ev.Model
	}
	return out
}

func TestBatchQueue_TakeReturnsArrivalOrder(t *testing.T) {
	q := newBatchQueue()
	for _, m := range []string{"a", "b", "c"} {
		require.True(t, q.put(Event{Kind: KindCreate, Model: m}))
	}
	assert.Equal(t, 3, q.len())

	batch, closed := q.take()
	assert.False(t, closed)
	assert.Equal(t, []string{"a", "b", "c"}, models(batch))
	assert.Equal(t, 0, q.len())

	batch, _ = q.take()
	assert.Empty(t, batch)
}

func TestBatchQueue_PutAfterClose(t *testing.T) {
	q := newBatchQueue()
	require.True(t, q.put(Event{Model: "kept"}))
	q.close()
	q.close()

	assert.False(t, q.put(Event{Model: "dropped"}))
	batch, closed := q.take()
	assert.True(t, closed)
	assert.Equal(t, []string{"kept"}, models(batch))

	select {
	case <-q.ready:
	default:
		t.Fatal("ready channel should be closed")
	}
}

func TestBatchQueue_ReadyCoalesces(t *testing.T) {
	q := newBatchQueue()
	q.put(Event{Model: "1"})
	q.put(Event{Model: "2"})

	<-q.ready
	select {
	case <-q.ready:
		t.Fatal("two puts should leave a single wake-up token")
	default:
	}
}

func TestBatchQueue_ConcurrentProducers(t *testing.T) {
	q := newBatchQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.put(Event{Kind: KindCreate, IDs: []int64{int64(producer*1000 + i)}})
			}
		}(p)
	}
	wg.Wait()

	batch, _ := q.take()
	assert.Len(t, batch, producers*perProducer)

	// Each producer's events keep their relative order.
	last := make(map[int64]int64)
	for _, ev := range batch {
		producer, seq := ev.IDs[0]/1000, ev.IDs[0]%1000
		if prev, ok := last[producer]; ok {
			assert.Greater(t, seq, prev)
		}
		last[producer] = seq
	}
}
