package wishsync

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type SubscriberState string

const (
	SubscriberStateIdle          SubscriberState = "idle"
	SubscriberStateConnecting    SubscriberState = "connecting"
	SubscriberStateSubscribing   SubscriberState = "subscribing"
	SubscriberStateLive          SubscriberState = "live"
	SubscriberStateReconnectWait SubscriberState = "reconnect-wait"
	SubscriberStateClosed        SubscriberState = "closed"
)

// (ctx, endpoint url)
type WsDialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

type SubscriberSettings struct {
	WsHandshakeTimeout    time.Duration
	SubscribeTimeout      time.Duration
	WriteTimeout          time.Duration
	ReadTimeout           time.Duration
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	// overrides the gorilla dialer. Used by tests and custom transports.
	DialFunc WsDialFunc
	// when set, called on every transition to live to pull the full item
	// list. Events lost during a disconnect gap are unrecoverable from the
	// stream alone, so the default wiring points this at the data API.
	ResyncFunc func(ctx context.Context)
}

func DefaultSubscriberSettings() *SubscriberSettings {
	return &SubscriberSettings{
		WsHandshakeTimeout:    5 * time.Second,
		SubscribeTimeout:      5 * time.Second,
		WriteTimeout:          5 * time.Second,
		ReadTimeout:           60 * time.Second,
		InitialReconnectDelay: 1 * time.Second,
		MaxReconnectDelay:     30 * time.Second,
	}
}

// SubscriptionTarget names what one connection subscribes to: a list as an
// authenticated member, or a list behind a public link token. Exactly one
// form is active per Subscriber.
type SubscriptionTarget struct {
	WishlistId  Id
	AccessToken string
	PublicToken string
}

func NewMemberTarget(wishlistId Id, accessToken string) *SubscriptionTarget {
	return &SubscriptionTarget{
		WishlistId:  wishlistId,
		AccessToken: accessToken,
	}
}

func NewPublicTarget(publicToken string) *SubscriptionTarget {
	return &SubscriptionTarget{
		PublicToken: publicToken,
	}
}

func (self *SubscriptionTarget) Public() bool {
	return self.PublicToken != ""
}

func (self *SubscriptionTarget) EndpointUrl(wsUrl string) string {
	params := url.Values{}
	if self.Public() {
		params.Set("public_token", self.PublicToken)
	} else {
		params.Set("access_token", self.AccessToken)
	}
	return fmt.Sprintf("%s?%s", wsUrl, params.Encode())
}

// reconnect computes the delay before the next connection attempt:
// doubling per consecutive failure from the initial delay, capped, reset
// when a connection goes live.
type reconnect struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	delay        time.Duration
}

func newReconnect(initialDelay time.Duration, maxDelay time.Duration) *reconnect {
	return &reconnect{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		delay:        initialDelay,
	}
}

func (self *reconnect) nextDelay() time.Duration {
	delay := self.delay
	self.delay = min(2*self.delay, self.maxDelay)
	return delay
}

func (self *reconnect) reset() {
	self.delay = self.initialDelay
}

// Subscriber maintains at most one live connection for its subscription
// target, transparently reconnecting on loss. Inbound frames are decoded
// and routed to the dispatcher. Teardown (`Close`) cancels any pending
// reconnect and prevents a slow-to-close stale connection from delivering
// into the collection.
type Subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionId Id

	wsUrl  string
	target *SubscriptionTarget

	dispatcher *EventDispatcher

	settings *SubscriberSettings

	stateMutex     sync.Mutex
	state          SubscriberState
	everLive       bool
	stateCallbacks *callbackList[func(SubscriberState)]
}

func NewSubscriberWithDefaults(
	ctx context.Context,
	wsUrl string,
	target *SubscriptionTarget,
	dispatcher *EventDispatcher,
) *Subscriber {
	return NewSubscriber(ctx, wsUrl, target, dispatcher, DefaultSubscriberSettings())
}

func NewSubscriber(
	ctx context.Context,
	wsUrl string,
	target *SubscriptionTarget,
	dispatcher *EventDispatcher,
	settings *SubscriberSettings,
) *Subscriber {
	cancelCtx, cancel := context.WithCancel(ctx)
	subscriber := &Subscriber{
		ctx:            cancelCtx,
		cancel:         cancel,
		sessionId:      NewId(),
		wsUrl:          wsUrl,
		target:         target,
		dispatcher:     dispatcher,
		settings:       settings,
		state:          SubscriberStateIdle,
		stateCallbacks: newCallbackList[func(SubscriberState)](),
	}
	go subscriber.run()
	return subscriber
}

func (self *Subscriber) run() {
	defer self.cancel()
	defer self.setState(SubscriberStateClosed)

	reconnect := newReconnect(
		self.settings.InitialReconnectDelay,
		self.settings.MaxReconnectDelay,
	)

	for {
		self.setState(SubscriberStateConnecting)
		ws, err := self.connect()
		if err != nil {
			glog.Infof("[ws]connect error %s = %s\n", self.sessionId, err)
			self.setState(SubscriberStateReconnectWait)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(reconnect.nextDelay()):
				continue
			}
		}

		reconnect.reset()
		self.setState(SubscriberStateLive)

		if self.settings.ResyncFunc != nil {
			go self.settings.ResyncFunc(self.ctx)
		}

		self.readLoop(ws)

		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.setState(SubscriberStateReconnectWait)
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(reconnect.nextDelay()):
		}
	}
}

func (self *Subscriber) dial(endpointUrl string) (*websocket.Conn, error) {
	if self.settings.DialFunc != nil {
		return self.settings.DialFunc(self.ctx, endpointUrl)
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, endpointUrl, nil)
	return ws, err
}

// connect opens the transport and completes the subscribe handshake.
// Public targets are live as soon as the transport opens; the token in the
// endpoint parameters is the whole subscription. Authenticated targets send
// an explicit subscribe and wait for the `subscribed` acknowledgment.
func (self *Subscriber) connect() (*websocket.Conn, error) {
	ws, err := self.dial(self.target.EndpointUrl(self.wsUrl))
	if err != nil {
		return nil, err
	}

	if self.target.Public() {
		return ws, nil
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	self.setState(SubscriberStateSubscribing)

	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	subscribe := &subscribeMessage{
		Event:      eventSubscribe,
		WishlistId: self.target.WishlistId,
	}
	if err := ws.WriteJSON(subscribe); err != nil {
		return nil, err
	}

	ws.SetReadDeadline(time.Now().Add(self.settings.SubscribeTimeout))
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		event, ok := DecodeStreamEvent(message)
		if !ok {
			continue
		}
		switch event.Event {
		case EventSubscribed:
			success = true
			return ws, nil
		case EventError:
			// the server refuses the subscription and will close
			return nil, fmt.Errorf("subscribe refused: %s: %s", event.Code, event.Message)
		case EventPing:
			self.pong(ws)
		default:
			// events before the acknowledgment are not for this list
		}
	}
}

func (self *Subscriber) readLoop(ws *websocket.Conn) {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// unblock the pending read on teardown
	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[ws]%s<- closed = %s\n", self.sessionId, err)
			return
		}

		event, ok := DecodeStreamEvent(message)
		if !ok {
			glog.V(2).Infof("[ws]%s<- drop\n", self.sessionId)
			continue
		}

		// a stale connection that outlives teardown must not deliver
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		switch event.Event {
		case EventPing:
			self.pong(ws)
		case EventSubscribed:
			// duplicate acknowledgment, already live
		default:
			self.dispatcher.Dispatch(event)
		}
	}
}

func (self *Subscriber) pong(ws *websocket.Conn) {
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteJSON(&pongMessage{Event: eventPong}); err != nil {
		glog.V(2).Infof("[ws]%s-> pong error = %s\n", self.sessionId, err)
	}
}

func (self *Subscriber) setState(state SubscriberState) {
	self.stateMutex.Lock()
	if self.state == SubscriberStateClosed {
		// terminal
		self.stateMutex.Unlock()
		return
	}
	self.state = state
	if state == SubscriberStateLive {
		self.everLive = true
	}
	self.stateMutex.Unlock()

	glog.V(2).Infof("[ws]%s state = %s\n", self.sessionId, state)
	for _, callback := range self.stateCallbacks.get() {
		callback(state)
	}
}

func (self *Subscriber) State() SubscriberState {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.state
}

// Connected is true while the connection is live.
func (self *Subscriber) Connected() bool {
	return self.State() == SubscriberStateLive
}

// Reconnecting is true when a previously-live connection is down and a new
// attempt is pending or underway. A first attempt that has not yet
// succeeded is not "reconnecting", it is simply not yet connected.
func (self *Subscriber) Reconnecting() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	switch self.state {
	case SubscriberStateLive, SubscriberStateClosed, SubscriberStateIdle:
		return false
	default:
		return self.everLive
	}
}

// the returned function removes the listener
func (self *Subscriber) AddStateListener(callback func(SubscriberState)) func() {
	return self.stateCallbacks.add(callback)
}

// Close tears the session down: the pending reconnect is cancelled and the
// transport closed. Terminal.
func (self *Subscriber) Close() {
	self.cancel()
}

func (self *Subscriber) Done() <-chan struct{} {
	return self.ctx.Done()
}
