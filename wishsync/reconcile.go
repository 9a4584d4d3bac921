package wishsync

import (
	"sync"

	"golang.org/x/exp/slices"
)

// ReduceItems applies one inbound item event to the collection and returns
// the next collection. This is the single merge point for both producers:
// the live stream and the mutation gateway's optimistic/confirmed writes.
//
// The stream carries no sequence numbers, so every case must be safe under
// duplicate and out-of-order delivery:
//   - item_added inserts only if the id is unknown. A duplicate add is a
//     no-op, which also covers an add arriving after the item is already
//     known through an optimistic success.
//   - item_updated replaces the entry wholesale. The inbound item is always
//     more authoritative than a local guess. An update for an unknown id is
//     an implicit add.
//   - item_removed is a no-op when the id is unknown.
//
// The input slice is never mutated; a changed collection is a new slice.
func ReduceItems(items []*Item, event *StreamEvent) []*Item {
	switch event.Event {
	case EventItemAdded:
		i := slices.IndexFunc(items, func(item *Item) bool {
			return item.ItemId == event.Item.ItemId
		})
		if 0 <= i {
			return items
		}
		next := slices.Clone(items)
		return append(next, event.Item)
	case EventItemUpdated:
		i := slices.IndexFunc(items, func(item *Item) bool {
			return item.ItemId == event.Item.ItemId
		})
		if i < 0 {
			next := slices.Clone(items)
			return append(next, event.Item)
		}
		next := slices.Clone(items)
		next[i] = event.Item
		return next
	case EventItemRemoved:
		i := slices.IndexFunc(items, func(item *Item) bool {
			return item.ItemId == *event.ItemId
		})
		if i < 0 {
			return items
		}
		next := slices.Clone(items)
		return slices.Delete(next, i, i+1)
	default:
		return items
	}
}

// ListStore owns the one ordered item collection for a single list view.
// All writes go through `Apply`, which runs the reducer on the latest
// snapshot under the lock, so back-to-back logical writes never lose
// updates. The rendering layer reads snapshots and registers for change
// notifications.
type ListStore struct {
	mutex           sync.Mutex
	items           []*Item
	changeCallbacks *callbackList[func()]
}

func NewListStore() *ListStore {
	return &ListStore{
		items:           []*Item{},
		changeCallbacks: newCallbackList[func()](),
	}
}

// Items returns a snapshot of the collection in render order.
func (self *ListStore) Items() []*Item {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return slices.Clone(self.items)
}

func (self *ListStore) Get(itemId Id) (*Item, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	i := slices.IndexFunc(self.items, func(item *Item) bool {
		return item.ItemId == itemId
	})
	if i < 0 {
		return nil, false
	}
	return self.items[i], true
}

func (self *ListStore) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.items)
}

// Apply runs one event through the reducer.
func (self *ListStore) Apply(event *StreamEvent) {
	self.mutex.Lock()
	previous := self.items
	self.items = ReduceItems(self.items, event)
	changed := len(previous) != len(self.items)
	if !changed {
		for i := range previous {
			if previous[i] != self.items[i] {
				changed = true
				break
			}
		}
	}
	self.mutex.Unlock()

	if changed {
		self.notifyChanged()
	}
}

// Resync reconciles a freshly fetched authoritative item list into the
// collection through the same reducer: every fetched item is applied as an
// update (implicit add when unknown), and local entries missing from the
// fetch are removed. Used after a reconnect, when events lost during the
// gap cannot otherwise be recovered.
func (self *ListStore) Resync(items []*Item) {
	self.mutex.Lock()
	next := self.items
	fetched := map[Id]bool{}
	for _, item := range items {
		fetched[item.ItemId] = true
		next = ReduceItems(next, ItemUpdatedEvent(item))
	}
	for _, item := range self.items {
		if !fetched[item.ItemId] {
			next = ReduceItems(next, ItemRemovedEvent(item.ItemId))
		}
	}
	self.items = next
	self.mutex.Unlock()

	self.notifyChanged()
}

// the returned function removes the listener
func (self *ListStore) AddChangeListener(callback func()) func() {
	return self.changeCallbacks.add(callback)
}

func (self *ListStore) notifyChanged() {
	for _, callback := range self.changeCallbacks.get() {
		callback()
	}
}
