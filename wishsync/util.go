package wishsync

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// makes a copy of the list on read, so callbacks can be invoked
// without holding the lock
type callbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	callbacks map[int]T
}

func newCallbackList[T any]() *callbackList[T] {
	return &callbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackIds := maps.Keys(self.callbacks)
	slices.Sort(callbackIds)
	callbacks := make([]T, 0, len(callbackIds))
	for _, callbackId := range callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

// the returned function removes the callback
func (self *callbackList[T]) add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.callbacks[callbackId] = callback
	return func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		delete(self.callbacks, callbackId)
	}
}
