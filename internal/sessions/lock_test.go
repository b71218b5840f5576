package sessions

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("s1")
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, k.size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
	assert.Equal(t, 0, k.size())
}
