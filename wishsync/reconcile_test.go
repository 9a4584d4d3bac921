package wishsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestItem(title string, status string) *Item {
	return &Item{
		ItemId:            NewId(),
		WishlistId:        NewId(),
		Title:             title,
		ReservationStatus: status,
	}
}

func TestReduceAddIsIdempotent(t *testing.T) {
	a := newTestItem("socks", ReservationAvailable)

	once := ReduceItems([]*Item{}, ItemAddedEvent(a))
	twice := ReduceItems(once, ItemAddedEvent(a))

	assert.Equal(t, 1, len(once))
	assert.Equal(t, 1, len(twice))
	assert.Equal(t, once[0].ItemId, twice[0].ItemId)

	// a duplicate add must not clobber a later known state
	reserved := *a
	reserved.ReservationStatus = ReservationReserved
	items := ReduceItems(once, ItemUpdatedEvent(&reserved))
	items = ReduceItems(items, ItemAddedEvent(a))
	assert.Equal(t, 1, len(items))
	assert.Equal(t, ReservationReserved, items[0].ReservationStatus)
}

func TestReduceRemoveIsIdempotent(t *testing.T) {
	a := newTestItem("socks", ReservationAvailable)
	b := newTestItem("scarf", ReservationAvailable)

	items := ReduceItems([]*Item{}, ItemAddedEvent(a))
	items = ReduceItems(items, ItemAddedEvent(b))

	once := ReduceItems(items, ItemRemovedEvent(a.ItemId))
	twice := ReduceItems(once, ItemRemovedEvent(a.ItemId))

	assert.Equal(t, 1, len(once))
	assert.Equal(t, 1, len(twice))
	assert.Equal(t, b.ItemId, twice[0].ItemId)

	// removing an unknown id is a no-op
	unknown := ReduceItems(items, ItemRemovedEvent(NewId()))
	assert.Equal(t, 2, len(unknown))
}

func TestReduceUpdateBeforeAddConverges(t *testing.T) {
	a := newTestItem("socks", ReservationAvailable)
	updated := *a
	updated.ReservationStatus = ReservationReserved

	// update then add
	items1 := ReduceItems([]*Item{}, ItemUpdatedEvent(&updated))
	items1 = ReduceItems(items1, ItemAddedEvent(a))

	// add then update
	items2 := ReduceItems([]*Item{}, ItemAddedEvent(a))
	items2 = ReduceItems(items2, ItemUpdatedEvent(&updated))

	assert.Equal(t, 1, len(items1))
	assert.Equal(t, 1, len(items2))
	assert.Equal(t, ReservationReserved, items1[0].ReservationStatus)
	assert.Equal(t, ReservationReserved, items2[0].ReservationStatus)
}

func TestReduceUpdateReplacesWholesale(t *testing.T) {
	a := newTestItem("socks", ReservationAvailable)
	a.ReservationMessage = "for grandma"

	userId := NewId()
	updated := *a
	updated.ReservationStatus = ReservationPurchased
	updated.ReservedById = &userId
	updated.ReservationMessage = ""

	items := ReduceItems([]*Item{a}, ItemUpdatedEvent(&updated))
	assert.Equal(t, 1, len(items))
	assert.Equal(t, ReservationPurchased, items[0].ReservationStatus)
	assert.Equal(t, &userId, items[0].ReservedById)
	// no field-level merge: the old message is gone
	assert.Equal(t, "", items[0].ReservationMessage)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	a := newTestItem("socks", ReservationAvailable)
	b := newTestItem("scarf", ReservationAvailable)
	items := []*Item{a, b}

	ReduceItems(items, ItemRemovedEvent(a.ItemId))
	ReduceItems(items, ItemAddedEvent(newTestItem("hat", ReservationAvailable)))

	assert.Equal(t, 2, len(items))
	assert.Equal(t, a.ItemId, items[0].ItemId)
	assert.Equal(t, b.ItemId, items[1].ItemId)
}

func TestListStoreChangeNotifications(t *testing.T) {
	store := NewListStore()

	changes := 0
	remove := store.AddChangeListener(func() {
		changes += 1
	})

	a := newTestItem("socks", ReservationAvailable)
	store.Apply(ItemAddedEvent(a))
	assert.Equal(t, 1, changes)

	// a no-op event does not notify
	store.Apply(ItemAddedEvent(a))
	assert.Equal(t, 1, changes)

	store.Apply(ItemRemovedEvent(NewId()))
	assert.Equal(t, 1, changes)

	store.Apply(ItemRemovedEvent(a.ItemId))
	assert.Equal(t, 2, changes)
	assert.Equal(t, 0, store.Len())

	remove()
	store.Apply(ItemAddedEvent(a))
	assert.Equal(t, 2, changes)
}

func TestListStoreResync(t *testing.T) {
	store := NewListStore()

	a := newTestItem("socks", ReservationAvailable)
	b := newTestItem("scarf", ReservationAvailable)
	store.Apply(ItemAddedEvent(a))
	store.Apply(ItemAddedEvent(b))

	// the fetch says: a is now reserved, b is gone, c exists
	aReserved := *a
	aReserved.ReservationStatus = ReservationReserved
	c := newTestItem("hat", ReservationAvailable)

	store.Resync([]*Item{&aReserved, c})

	items := store.Items()
	assert.Equal(t, 2, len(items))
	assert.Equal(t, a.ItemId, items[0].ItemId)
	assert.Equal(t, ReservationReserved, items[0].ReservationStatus)
	assert.Equal(t, c.ItemId, items[1].ItemId)

	// resyncing the same list again is stable
	store.Resync([]*Item{&aReserved, c})
	assert.Equal(t, 2, store.Len())
}
