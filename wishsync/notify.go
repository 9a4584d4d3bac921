package wishsync

// NotificationBus fans a refresh signal out to every registered view.
// Mutations that change suggestion state fire it so open notification
// surfaces can refetch. It is plain injected state, not a process global;
// share one instance across the views that should hear each other.
type NotificationBus struct {
	refreshCallbacks *callbackList[func()]
}

func NewNotificationBus() *NotificationBus {
	return &NotificationBus{
		refreshCallbacks: newCallbackList[func()](),
	}
}

// the returned function removes the listener
func (self *NotificationBus) AddRefreshListener(callback func()) func() {
	return self.refreshCallbacks.add(callback)
}

func (self *NotificationBus) Refresh() {
	for _, callback := range self.refreshCallbacks.get() {
		callback()
	}
}
