package wishsync

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecodeStreamEventVariants(t *testing.T) {
	itemId := NewId()
	wishlistId := NewId()

	message := fmt.Sprintf(
		`{"event": "item_added", "item": {"id": "%s", "wishlist_id": "%s", "title": "socks", "reservation_status": "available"}}`,
		itemId,
		wishlistId,
	)
	event, ok := DecodeStreamEvent([]byte(message))
	assert.Equal(t, true, ok)
	assert.Equal(t, EventItemAdded, event.Event)
	assert.Equal(t, itemId, event.Item.ItemId)
	assert.Equal(t, "socks", event.Item.Title)

	message = fmt.Sprintf(`{"event": "item_removed", "item_id": "%s"}`, itemId)
	event, ok = DecodeStreamEvent([]byte(message))
	assert.Equal(t, true, ok)
	assert.Equal(t, itemId, *event.ItemId)

	message = fmt.Sprintf(`{"event": "subscribed", "wishlist_id": "%s", "public": true}`, wishlistId)
	event, ok = DecodeStreamEvent([]byte(message))
	assert.Equal(t, true, ok)
	assert.Equal(t, wishlistId, *event.WishlistId)
	assert.Equal(t, true, event.Public)

	event, ok = DecodeStreamEvent([]byte(`{"event": "ping", "ts": 1720000000.5}`))
	assert.Equal(t, true, ok)
	assert.Equal(t, EventPing, event.Event)

	event, ok = DecodeStreamEvent([]byte(`{"event": "error", "code": "forbidden", "message": "No access"}`))
	assert.Equal(t, true, ok)
	assert.Equal(t, "forbidden", event.Code)

	suggestionId := NewId()
	message = fmt.Sprintf(
		`{"event": "suggestion_added", "suggestion": {"id": "%s", "wishlist_id": "%s", "title": "mittens"}}`,
		suggestionId,
		wishlistId,
	)
	event, ok = DecodeStreamEvent([]byte(message))
	assert.Equal(t, true, ok)
	assert.Equal(t, suggestionId, event.Suggestion.SuggestionId)
}

func TestDecodeStreamEventDropsMalformed(t *testing.T) {
	for _, message := range []string{
		``,
		`not json`,
		`{}`,
		`{"event": "launch_missiles"}`,
		`{"event": "item_added"}`,
		`{"event": "item_added", "item": {"id": "not-a-uuid"}}`,
		`{"event": "item_removed"}`,
		`{"event": "suggestion_removed"}`,
		`{"event": "authenticated"}`,
		`[1, 2, 3]`,
	} {
		_, ok := DecodeStreamEvent([]byte(message))
		assert.Equal(t, false, ok)
	}
}

func TestDispatcherRouting(t *testing.T) {
	store := NewListStore()

	var addedSuggestion *Suggestion
	var removedSuggestionId Id
	var errorCode string
	dispatcher := NewEventDispatcher(store, &DispatcherHooks{
		SuggestionAdded: func(suggestion *Suggestion) {
			addedSuggestion = suggestion
		},
		SuggestionRemoved: func(suggestionId Id) {
			removedSuggestionId = suggestionId
		},
		Error: func(code string, message string) {
			errorCode = code
		},
	})

	a := newTestItem("socks", ReservationAvailable)
	dispatcher.Dispatch(ItemAddedEvent(a))
	assert.Equal(t, 1, store.Len())

	suggestion := &Suggestion{
		SuggestionId: NewId(),
		Title:        "mittens",
	}
	dispatcher.Dispatch(&StreamEvent{
		Event:      EventSuggestionAdded,
		Suggestion: suggestion,
	})
	assert.Equal(t, suggestion, addedSuggestion)

	suggestionId := suggestion.SuggestionId
	dispatcher.Dispatch(&StreamEvent{
		Event:        EventSuggestionRemoved,
		SuggestionId: &suggestionId,
	})
	assert.Equal(t, suggestionId, removedSuggestionId)

	dispatcher.Dispatch(&StreamEvent{
		Event:   EventError,
		Code:    "forbidden",
		Message: "No access",
	})
	assert.Equal(t, "forbidden", errorCode)

	// nil hooks make suggestion events no-ops
	quiet := NewEventDispatcher(store, nil)
	quiet.Dispatch(&StreamEvent{
		Event:      EventSuggestionAdded,
		Suggestion: suggestion,
	})
	assert.Equal(t, 1, store.Len())
}

func TestItemJsonRoundTrip(t *testing.T) {
	userId := NewId()
	a := newTestItem("socks", ReservationReserved)
	a.ReservedById = &userId
	a.Price = 19.9
	a.Currency = "EUR"
	a.ContributedPledged = 5
	a.ContributedPaid = 2.5
	a.ContributedTotal = 7.5

	encoded, err := json.Marshal(a)
	assert.Equal(t, nil, err)

	var decoded Item
	err = json.Unmarshal(encoded, &decoded)
	assert.Equal(t, nil, err)
	assert.Equal(t, a.ItemId, decoded.ItemId)
	assert.Equal(t, userId, *decoded.ReservedById)
	assert.Equal(t, a.ContributedTotal, decoded.ContributedPledged+decoded.ContributedPaid)

	// null display fields must not kill the decode
	withNulls := fmt.Sprintf(
		`{"id": "%s", "wishlist_id": "%s", "title": "socks", "description": null, "price": null, "reserved_by_id": null, "reservation_status": "available"}`,
		NewId(),
		NewId(),
	)
	err = json.Unmarshal([]byte(withNulls), &decoded)
	assert.Equal(t, nil, err)
	assert.Equal(t, ReservationAvailable, decoded.ReservationStatus)
}
