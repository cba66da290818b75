package buffer_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mickamy/fieldtrail/internal/buffer"
)

func TestBuffer_AddDrain(t *testing.T) {
	t.Parallel()

	b := buffer.NewBuffer[int]()
	b.Add(1, 2)
	b.Add()
	b.Add(3)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{1, 2, 3}, b.Drain())
	assert.Zero(t, b.Len())
	assert.Nil(t, b.Drain())
}

func TestBuffer_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	b := buffer.NewBuffer[int]()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add(i, i)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, b.Len())
	assert.Len(t, b.Drain(), 100)
	assert.Zero(t, b.Len())
}
