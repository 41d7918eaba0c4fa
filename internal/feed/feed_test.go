package feed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_Since(t *testing.T) {
	f := New[int](4)
	assert.Equal(t, uint64(0), f.Head())

	f.Append(1)
	f.Append(2)
	items, cursor := f.Since(0)
	assert.Equal(t, []int{1, 2}, items)
	assert.Equal(t, uint64(2), cursor)

	items, cursor = f.Since(cursor)
	assert.Empty(t, items)
	assert.Equal(t, uint64(2), cursor)

	f.Append(3)
	items, cursor = f.Since(cursor)
	assert.Equal(t, []int{3}, items)
	assert.Equal(t, uint64(3), cursor)
}

func TestFeed_OverwritesOldest(t *testing.T) {
	f := New[int](3)
	for i := 1; i <= 5; i++ {
		f.Append(i)
	}

	items, cursor := f.Since(0)
	assert.Equal(t, []int{3, 4, 5}, items)
	assert.Equal(t, uint64(5), cursor)
}

func TestFeed_ConcurrentAppend(t *testing.T) {
	f := New[int](1000)
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				f.Append(i)
			}
		}()
	}
	wg.Wait()

	items, cursor := f.Since(0)
	assert.Len(t, items, 500)
	assert.Equal(t, uint64(500), cursor)
}
