package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherPerKeyOrder(t *testing.T) {
	d := NewDispatcher(context.Background(), 8)

	var mu sync.Mutex
	got := make(map[string][]int)

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a.ts", "b.ts", "c.ts"} {
			d.Submit(key, func(context.Context) {
				time.Sleep(time.Duration(i%3) * time.Millisecond)
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	d.Wait()

	for _, key := range []string{"a.ts", "b.ts", "c.ts"} {
		assert.Len(t, got[key], 50)
		for i, v := range got[key] {
			assert.Equal(t, i, v, "lane %s out of order", key)
		}
	}
	assert.Zero(t, d.Pending())
}

func TestDispatcherNoCoalescing(t *testing.T) {
	d := NewDispatcher(context.Background(), 2)

	var runs atomic.Int32
	for i := 0; i < 10; i++ {
		d.Submit("same", func(context.Context) { runs.Add(1) })
	}
	d.Wait()

	assert.Equal(t, int32(10), runs.Load())
}

func TestDispatcherOneAtATimePerKey(t *testing.T) {
	d := NewDispatcher(context.Background(), 16)

	var active, maxActive atomic.Int32
	for i := 0; i < 20; i++ {
		d.Submit("key", func(context.Context) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	d.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDispatcherLimit(t *testing.T) {
	const limit = 3
	d := NewDispatcher(context.Background(), limit)

	var active, maxActive atomic.Int32
	for i := 0; i < 30; i++ {
		d.Submit(fmt.Sprintf("file-%d", i), func(context.Context) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		})
	}
	d.Wait()

	assert.LessOrEqual(t, maxActive.Load(), int32(limit))
	assert.Greater(t, maxActive.Load(), int32(1))
}

func TestDispatcherPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	d := NewDispatcher(ctx, 0)

	var got interface{}
	d.Submit("k", func(ctx context.Context) { got = ctx.Value(key{}) })
	d.Wait()

	assert.Equal(t, "v", got)
}
