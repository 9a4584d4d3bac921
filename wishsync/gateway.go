package wishsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
)

const defaultNoticeTimeout = 5 * time.Second

type GatewaySettings struct {
	NoticeTimeout time.Duration
}

func DefaultGatewaySettings() *GatewaySettings {
	return &GatewaySettings{
		NoticeTimeout: defaultNoticeTimeout,
	}
}

// Notice is a transient, auto-expiring user-facing message. Conflict
// notices mean another actor won a reservation race; they are expected and
// recoverable, not bugs.
type Notice struct {
	Message   string
	Conflict  bool
	ExpiresAt time.Time
}

// MutationGateway translates user intents into API requests, applying
// optimistic updates to the shared collection before the response arrives
// and reconciling on success, conflict, or failure. All writes go through
// the same reducer as the live stream.
//
// A gateway with a public token uses the public-link endpoint variants;
// otherwise it uses the member endpoints for its wishlist id.
type MutationGateway struct {
	ctx    context.Context
	cancel context.CancelFunc

	api   *WishApi
	store *ListStore

	wishlistId  Id
	publicToken string

	notificationBus *NotificationBus

	settings *GatewaySettings

	noticeMutex     sync.Mutex
	notice          *Notice
	noticeTimer     *time.Timer
	noticeCallbacks *callbackList[func(*Notice)]
}

func NewMutationGateway(
	ctx context.Context,
	api *WishApi,
	store *ListStore,
	wishlistId Id,
	notificationBus *NotificationBus,
) *MutationGateway {
	return newMutationGateway(ctx, api, store, wishlistId, "", notificationBus, DefaultGatewaySettings())
}

func NewPublicMutationGateway(
	ctx context.Context,
	api *WishApi,
	store *ListStore,
	publicToken string,
) *MutationGateway {
	return newMutationGateway(ctx, api, store, Id{}, publicToken, nil, DefaultGatewaySettings())
}

func newMutationGateway(
	ctx context.Context,
	api *WishApi,
	store *ListStore,
	wishlistId Id,
	publicToken string,
	notificationBus *NotificationBus,
	settings *GatewaySettings,
) *MutationGateway {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &MutationGateway{
		ctx:             cancelCtx,
		cancel:          cancel,
		api:             api,
		store:           store,
		wishlistId:      wishlistId,
		publicToken:     publicToken,
		notificationBus: notificationBus,
		settings:        settings,
		noticeCallbacks: newCallbackList[func(*Notice)](),
	}
}

func (self *MutationGateway) Public() bool {
	return self.publicToken != ""
}

type SetReservationStatusCallback = apiCallback[*Item]

func (self *MutationGateway) Reserve(itemId Id, callback SetReservationStatusCallback) {
	self.SetReservationStatus(itemId, ReservationReserved, callback)
}

func (self *MutationGateway) Unreserve(itemId Id, callback SetReservationStatusCallback) {
	self.SetReservationStatus(itemId, ReservationAvailable, callback)
}

func (self *MutationGateway) MarkPurchased(itemId Id, callback SetReservationStatusCallback) {
	self.SetReservationStatus(itemId, ReservationPurchased, callback)
}

func (self *MutationGateway) SetReservationStatus(itemId Id, status string, callback SetReservationStatusCallback) {
	go func() {
		item, err := self.SetReservationStatusSync(itemId, status)
		callback.Result(item, err)
	}()
}

// SetReservationStatusSync runs the full reservation protocol:
//  1. snapshot the current item
//  2. write the requested status optimistically (with a provisional
//     reserved-at timestamp when entering reserved/purchased)
//  3. send the request
//  4. on success, adopt the server's item wholesale
//  5. on a reservation conflict, adopt the conflicting current item and
//     post a transient notice; no automatic retry
//  6. on any other failure, roll back to the snapshot and post the error
func (self *MutationGateway) SetReservationStatusSync(itemId Id, status string) (*Item, error) {
	switch status {
	case ReservationAvailable, ReservationReserved, ReservationPurchased:
	default:
		return nil, fmt.Errorf("unknown reservation status %s", status)
	}

	previous, ok := self.store.Get(itemId)
	if !ok {
		return nil, fmt.Errorf("unknown item %s", itemId)
	}

	if status != ReservationAvailable {
		optimistic := *previous
		optimistic.ReservationStatus = status
		optimistic.ReservedAt = time.Now().UTC().Format(time.RFC3339)
		self.store.Apply(ItemUpdatedEvent(&optimistic))
	}

	updateItem := &UpdateItemArgs{
		ReservationStatus: status,
	}
	var updated *Item
	var err error
	if self.Public() {
		updated, err = self.api.UpdatePublicItemSync(self.publicToken, itemId, updateItem)
	} else {
		updated, err = self.api.UpdateItemSync(self.wishlistId, itemId, updateItem)
	}

	if err == nil {
		// the server is authoritative for the reserving user, timestamps,
		// and derived fields
		self.store.Apply(ItemUpdatedEvent(updated))
		return updated, nil
	}

	var conflict *ReservationConflictError
	if errors.As(err, &conflict) {
		if conflict.CurrentItem != nil {
			self.store.Apply(ItemUpdatedEvent(conflict.CurrentItem))
		}
		self.postNotice(&Notice{
			Message:  conflict.Message,
			Conflict: true,
		})
		return nil, err
	}

	self.store.Apply(ItemUpdatedEvent(previous))
	self.postNotice(&Notice{
		Message: err.Error(),
	})
	return nil, err
}

type ContributeCallback = apiCallback[*Item]

func (self *MutationGateway) Contribute(itemId Id, amount float64, status string, callback ContributeCallback) {
	go func() {
		item, err := self.ContributeSync(itemId, amount, status)
		callback.Result(item, err)
	}()
}

// ContributeSync chips in on an item. There is no optimistic write:
// aggregate totals are server-derived and not guessable client-side, so a
// failure needs no rollback.
func (self *MutationGateway) ContributeSync(itemId Id, amount float64, status string) (*Item, error) {
	if math.IsNaN(amount) || amount <= 0 {
		return nil, fmt.Errorf("contribution amount must be positive")
	}
	if status == "" {
		status = ContributionPledged
	}
	switch status {
	case ContributionPledged, ContributionPaid:
	default:
		return nil, fmt.Errorf("unknown contribution status %s", status)
	}

	createContribution := &CreateContributionArgs{
		Amount: amount,
		Status: status,
	}
	var updated *Item
	var err error
	if self.Public() {
		updated, err = self.api.CreatePublicContributionSync(self.publicToken, itemId, createContribution)
	} else {
		updated, err = self.api.CreateContributionSync(self.wishlistId, itemId, createContribution)
	}
	if err != nil {
		self.postNotice(&Notice{
			Message: err.Error(),
		})
		return nil, err
	}

	self.store.Apply(ItemUpdatedEvent(updated))
	return updated, nil
}

type DeleteItemGatewayCallback = apiCallback[*EmptyResult]

func (self *MutationGateway) DeleteItem(itemId Id, callback DeleteItemGatewayCallback) {
	go func() {
		result, err := self.DeleteItemSync(itemId)
		callback.Result(result, err)
	}()
}

// DeleteItemSync removes an item. The local removal happens only after the
// server confirms: a wrongly disappeared item is not user-correctable, so
// deletion is never optimistic. Not available through a public link.
func (self *MutationGateway) DeleteItemSync(itemId Id) (*EmptyResult, error) {
	if self.Public() {
		return nil, fmt.Errorf("delete is not available through a public link")
	}
	result, err := self.api.DeleteItemSync(self.wishlistId, itemId)
	if err != nil {
		self.postNotice(&Notice{
			Message: err.Error(),
		})
		return nil, err
	}
	self.store.Apply(ItemRemovedEvent(itemId))
	return result, nil
}

// AcceptSuggestionSync promotes a visitor suggestion into the list. The
// new item arrives through the live stream and through the refetch; both
// paths are idempotent in the reducer.
func (self *MutationGateway) AcceptSuggestionSync(suggestionId Id) error {
	if self.Public() {
		return fmt.Errorf("suggestion triage is owner-only")
	}
	_, err := self.api.AcceptSuggestionSync(self.wishlistId, suggestionId)
	if err != nil {
		return err
	}
	self.Resync(self.ctx)
	self.refreshNotifications()
	return nil
}

func (self *MutationGateway) RejectSuggestionSync(suggestionId Id) error {
	if self.Public() {
		return fmt.Errorf("suggestion triage is owner-only")
	}
	_, err := self.api.RejectSuggestionSync(self.wishlistId, suggestionId)
	if err != nil {
		return err
	}
	self.refreshNotifications()
	return nil
}

// Resync pulls the authoritative item list and reconciles it into the
// collection. Wired into the subscriber's resync hook so disconnect gaps
// converge after the next live transition.
func (self *MutationGateway) Resync(ctx context.Context) {
	var items []*Item
	if self.Public() {
		result, err := self.api.GetPublicWishlistSync(self.publicToken)
		if err != nil {
			glog.Infof("[gw]resync error = %s\n", err)
			return
		}
		items = result.Items
	} else {
		var err error
		items, err = self.api.ListItemsSync(self.wishlistId)
		if err != nil {
			glog.Infof("[gw]resync error = %s\n", err)
			return
		}
	}
	select {
	case <-ctx.Done():
		return
	case <-self.ctx.Done():
		return
	default:
	}
	self.store.Resync(items)
}

func (self *MutationGateway) refreshNotifications() {
	if self.notificationBus != nil {
		self.notificationBus.Refresh()
	}
}

// Notice returns the current transient notice, or nil after expiry.
func (self *MutationGateway) Notice() *Notice {
	self.noticeMutex.Lock()
	defer self.noticeMutex.Unlock()
	return self.notice
}

// the returned function removes the listener. Listeners get the new notice,
// then nil when it expires.
func (self *MutationGateway) AddNoticeListener(callback func(*Notice)) func() {
	return self.noticeCallbacks.add(callback)
}

func (self *MutationGateway) postNotice(notice *Notice) {
	notice.ExpiresAt = time.Now().Add(self.settings.NoticeTimeout)

	self.noticeMutex.Lock()
	if self.noticeTimer != nil {
		self.noticeTimer.Stop()
	}
	self.notice = notice
	self.noticeTimer = time.AfterFunc(self.settings.NoticeTimeout, func() {
		self.expireNotice(notice)
	})
	self.noticeMutex.Unlock()

	for _, callback := range self.noticeCallbacks.get() {
		callback(notice)
	}
}

func (self *MutationGateway) expireNotice(notice *Notice) {
	self.noticeMutex.Lock()
	if self.notice != notice {
		// already replaced
		self.noticeMutex.Unlock()
		return
	}
	self.notice = nil
	self.noticeMutex.Unlock()

	for _, callback := range self.noticeCallbacks.get() {
		callback(nil)
	}
}

func (self *MutationGateway) Close() {
	self.cancel()

	self.noticeMutex.Lock()
	if self.noticeTimer != nil {
		self.noticeTimer.Stop()
	}
	self.noticeMutex.Unlock()
}
