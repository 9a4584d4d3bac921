package wishsync

import (
	"encoding/json"

	"github.com/golang/glog"
)

// server -> client event variants
const (
	EventSubscribed        = "subscribed"
	EventAuthenticated     = "authenticated"
	EventItemAdded         = "item_added"
	EventItemUpdated       = "item_updated"
	EventItemRemoved       = "item_removed"
	EventSuggestionAdded   = "suggestion_added"
	EventSuggestionRemoved = "suggestion_removed"
	EventPing              = "ping"
	EventError             = "error"
)

// client -> server control messages
const (
	eventSubscribe = "subscribe"
	eventPong      = "pong"
)

// StreamEvent is one inbound frame from the live connection. The `Event` tag
// selects the variant; only the fields of that variant are set.
type StreamEvent struct {
	Event        string      `json:"event"`
	WishlistId   *Id         `json:"wishlist_id,omitempty"`
	Public       bool        `json:"public,omitempty"`
	UserId       *Id         `json:"user_id,omitempty"`
	Item         *Item       `json:"item,omitempty"`
	ItemId       *Id         `json:"item_id,omitempty"`
	Suggestion   *Suggestion `json:"suggestion,omitempty"`
	SuggestionId *Id         `json:"suggestion_id,omitempty"`
	Ts           float64     `json:"ts,omitempty"`
	Code         string      `json:"code,omitempty"`
	Message      string      `json:"message,omitempty"`
}

func ItemAddedEvent(item *Item) *StreamEvent {
	return &StreamEvent{
		Event: EventItemAdded,
		Item:  item,
	}
}

func ItemUpdatedEvent(item *Item) *StreamEvent {
	return &StreamEvent{
		Event: EventItemUpdated,
		Item:  item,
	}
}

func ItemRemovedEvent(itemId Id) *StreamEvent {
	return &StreamEvent{
		Event:  EventItemRemoved,
		ItemId: &itemId,
	}
}

type subscribeMessage struct {
	Event      string `json:"event"`
	WishlistId Id     `json:"wishlist_id"`
}

type pongMessage struct {
	Event string `json:"event"`
}

// DecodeStreamEvent parses an inbound frame into exactly one variant of the
// closed event set. Frames that do not parse, carry an unknown tag, or are
// missing the payload their tag requires are dropped (ok=false), never
// surfaced as errors.
func DecodeStreamEvent(message []byte) (*StreamEvent, bool) {
	var event StreamEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, false
	}
	switch event.Event {
	case EventSubscribed, EventPing, EventError:
		return &event, true
	case EventAuthenticated:
		if event.UserId == nil {
			return nil, false
		}
		return &event, true
	case EventItemAdded, EventItemUpdated:
		if event.Item == nil {
			return nil, false
		}
		return &event, true
	case EventItemRemoved:
		if event.ItemId == nil {
			return nil, false
		}
		return &event, true
	case EventSuggestionAdded:
		if event.Suggestion == nil {
			return nil, false
		}
		return &event, true
	case EventSuggestionRemoved:
		if event.SuggestionId == nil {
			return nil, false
		}
		return &event, true
	default:
		return nil, false
	}
}

// DispatcherHooks are caller-supplied routes for the event variants that do
// not feed the item collection. All hooks are optional; a nil hook makes the
// variant a no-op, which is the normal configuration for non-owner viewers.
type DispatcherHooks struct {
	SuggestionAdded   func(suggestion *Suggestion)
	SuggestionRemoved func(suggestionId Id)
	Authenticated     func(userId Id)
	Error             func(code string, message string)
}

// EventDispatcher routes decoded events to the item collection and to the
// caller hooks. `subscribed` and `ping` never reach the dispatcher; the
// connection supervisor consumes them.
type EventDispatcher struct {
	store *ListStore
	hooks *DispatcherHooks
}

func NewEventDispatcher(store *ListStore, hooks *DispatcherHooks) *EventDispatcher {
	if hooks == nil {
		hooks = &DispatcherHooks{}
	}
	return &EventDispatcher{
		store: store,
		hooks: hooks,
	}
}

func (self *EventDispatcher) Dispatch(event *StreamEvent) {
	switch event.Event {
	case EventItemAdded, EventItemUpdated, EventItemRemoved:
		self.store.Apply(event)
	case EventSuggestionAdded:
		if self.hooks.SuggestionAdded != nil {
			self.hooks.SuggestionAdded(event.Suggestion)
		}
	case EventSuggestionRemoved:
		if self.hooks.SuggestionRemoved != nil {
			self.hooks.SuggestionRemoved(*event.SuggestionId)
		}
	case EventAuthenticated:
		if self.hooks.Authenticated != nil {
			self.hooks.Authenticated(*event.UserId)
		}
	case EventError:
		// the stream stays up on server errors. The server closes the
		// connection itself when the error is fatal.
		glog.Infof("[ws]server error %s = %s\n", event.Code, event.Message)
		if self.hooks.Error != nil {
			self.hooks.Error(event.Code, event.Message)
		}
	}
}
