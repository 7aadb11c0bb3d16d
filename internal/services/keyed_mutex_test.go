// internal/services/keyed_mutex_test.go
package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var mu sync.Mutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("app:A")
			defer unlock()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("app:A")
	defer unlockA()

	// A held lock on one key must not block another key.
	unlockB, ok := km.TryLock("app:B")
	assert.True(t, ok)
	unlockB()
}

func TestKeyedMutexTryLockHeldKey(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("app:A")

	_, ok := km.TryLock("app:A")
	assert.False(t, ok)

	unlock()

	unlock2, ok := km.TryLock("app:A")
	assert.True(t, ok)
	unlock2()
}
