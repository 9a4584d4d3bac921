package wishsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any](ctx context.Context) (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		select {
		case <-ctx.Done():
		case c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}:
		}
	})
	return apiCallback, c
}

// ReservationConflictError is the distinguished mutation failure that means
// another actor changed the reservation first. It carries the item as the
// server currently sees it, so the caller can adopt server truth.
type ReservationConflictError struct {
	Message     string
	CurrentItem *Item
}

func (self *ReservationConflictError) Error() string {
	return self.Message
}

// WishApi issues request/response calls against the wishlist data API.
// A 401 on any authenticated call fires the session-expired listeners once
// per call; public-token calls never do.
type WishApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	accessToken string

	sessionExpiredCallbacks *callbackList[func()]
}

func NewWishApi(apiUrl string) *WishApi {
	return NewWishApiWithContext(context.Background(), apiUrl)
}

func NewWishApiWithContext(ctx context.Context, apiUrl string) *WishApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &WishApi{
		ctx:                     cancelCtx,
		cancel:                  cancel,
		apiUrl:                  apiUrl,
		sessionExpiredCallbacks: newCallbackList[func()](),
	}
}

// this gets attached to all authenticated calls
func (self *WishApi) SetAccessToken(accessToken string) {
	self.accessToken = accessToken
}

// the returned function removes the listener
func (self *WishApi) AddSessionExpiredListener(callback func()) func() {
	return self.sessionExpiredCallbacks.add(callback)
}

func (self *WishApi) sessionExpired() {
	for _, callback := range self.sessionExpiredCallbacks.get() {
		callback()
	}
}

func (self *WishApi) Close() {
	self.cancel()
}

type AuthLoginCallback = apiCallback[*TokenResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

func (self *WishApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go request(
		self,
		"POST",
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		false,
		&TokenResult{},
		callback,
	)
}

func (self *WishApi) AuthLoginSync(authLogin *AuthLoginArgs) (*TokenResult, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		false,
		&TokenResult{},
		NewNoopApiCallback[*TokenResult](),
	)
}

type AuthRefreshArgs struct {
	RefreshToken string `json:"refresh_token"`
}

func (self *WishApi) AuthRefreshSync(authRefresh *AuthRefreshArgs) (*TokenResult, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/auth/refresh", self.apiUrl),
		authRefresh,
		false,
		&TokenResult{},
		NewNoopApiCallback[*TokenResult](),
	)
}

type ListItemsCallback = apiCallback[[]*Item]

func (self *WishApi) ListItems(wishlistId Id, callback ListItemsCallback) {
	go request(
		self,
		"GET",
		fmt.Sprintf("%s/wishlists/%s/items", self.apiUrl, wishlistId),
		nil,
		true,
		[]*Item{},
		callback,
	)
}

func (self *WishApi) ListItemsSync(wishlistId Id) ([]*Item, error) {
	return request(
		self,
		"GET",
		fmt.Sprintf("%s/wishlists/%s/items", self.apiUrl, wishlistId),
		nil,
		true,
		[]*Item{},
		NewNoopApiCallback[[]*Item](),
	)
}

type UpdateItemCallback = apiCallback[*Item]

// partial update. Only the set fields are sent.
type UpdateItemArgs struct {
	ReservationStatus  string  `json:"reservation_status,omitempty"`
	ReservationMessage *string `json:"reservation_message,omitempty"`
}

func (self *WishApi) UpdateItem(wishlistId Id, itemId Id, updateItem *UpdateItemArgs, callback UpdateItemCallback) {
	go request(
		self,
		"PATCH",
		fmt.Sprintf("%s/wishlists/%s/items/%s", self.apiUrl, wishlistId, itemId),
		updateItem,
		true,
		&Item{},
		callback,
	)
}

func (self *WishApi) UpdateItemSync(wishlistId Id, itemId Id, updateItem *UpdateItemArgs) (*Item, error) {
	return request(
		self,
		"PATCH",
		fmt.Sprintf("%s/wishlists/%s/items/%s", self.apiUrl, wishlistId, itemId),
		updateItem,
		true,
		&Item{},
		NewNoopApiCallback[*Item](),
	)
}

type CreateContributionCallback = apiCallback[*Item]

type CreateContributionArgs struct {
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
}

func (self *WishApi) CreateContribution(wishlistId Id, itemId Id, createContribution *CreateContributionArgs, callback CreateContributionCallback) {
	go request(
		self,
		"POST",
		fmt.Sprintf("%s/wishlists/%s/items/%s/contributions", self.apiUrl, wishlistId, itemId),
		createContribution,
		true,
		&Item{},
		callback,
	)
}

func (self *WishApi) CreateContributionSync(wishlistId Id, itemId Id, createContribution *CreateContributionArgs) (*Item, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/wishlists/%s/items/%s/contributions", self.apiUrl, wishlistId, itemId),
		createContribution,
		true,
		&Item{},
		NewNoopApiCallback[*Item](),
	)
}

type DeleteItemCallback = apiCallback[*EmptyResult]

type EmptyResult struct{}

func (self *WishApi) DeleteItem(wishlistId Id, itemId Id, callback DeleteItemCallback) {
	go request(
		self,
		"DELETE",
		fmt.Sprintf("%s/wishlists/%s/items/%s", self.apiUrl, wishlistId, itemId),
		nil,
		true,
		&EmptyResult{},
		callback,
	)
}

func (self *WishApi) DeleteItemSync(wishlistId Id, itemId Id) (*EmptyResult, error) {
	return request(
		self,
		"DELETE",
		fmt.Sprintf("%s/wishlists/%s/items/%s", self.apiUrl, wishlistId, itemId),
		nil,
		true,
		&EmptyResult{},
		NewNoopApiCallback[*EmptyResult](),
	)
}

type ListSuggestionsCallback = apiCallback[[]*Suggestion]

func (self *WishApi) ListSuggestions(wishlistId Id, callback ListSuggestionsCallback) {
	go request(
		self,
		"GET",
		fmt.Sprintf("%s/wishlists/%s/suggestions", self.apiUrl, wishlistId),
		nil,
		true,
		[]*Suggestion{},
		callback,
	)
}

func (self *WishApi) ListSuggestionsSync(wishlistId Id) ([]*Suggestion, error) {
	return request(
		self,
		"GET",
		fmt.Sprintf("%s/wishlists/%s/suggestions", self.apiUrl, wishlistId),
		nil,
		true,
		[]*Suggestion{},
		NewNoopApiCallback[[]*Suggestion](),
	)
}

func (self *WishApi) AcceptSuggestionSync(wishlistId Id, suggestionId Id) (*EmptyResult, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/wishlists/%s/suggestions/%s/accept", self.apiUrl, wishlistId, suggestionId),
		nil,
		true,
		&EmptyResult{},
		NewNoopApiCallback[*EmptyResult](),
	)
}

func (self *WishApi) RejectSuggestionSync(wishlistId Id, suggestionId Id) (*EmptyResult, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/wishlists/%s/suggestions/%s/reject", self.apiUrl, wishlistId, suggestionId),
		nil,
		true,
		&EmptyResult{},
		NewNoopApiCallback[*EmptyResult](),
	)
}

type PublicWishlistResult struct {
	Wishlist *Wishlist `json:"wishlist"`
	Items    []*Item   `json:"items"`
}

func (self *WishApi) GetPublicWishlistSync(publicToken string) (*PublicWishlistResult, error) {
	return request(
		self,
		"GET",
		fmt.Sprintf("%s/public/wishlists?token=%s", self.apiUrl, url.QueryEscape(publicToken)),
		nil,
		false,
		&PublicWishlistResult{},
		NewNoopApiCallback[*PublicWishlistResult](),
	)
}

// public-link variant of UpdateItem. Same shapes, scoped by token.
func (self *WishApi) UpdatePublicItemSync(publicToken string, itemId Id, updateItem *UpdateItemArgs) (*Item, error) {
	return request(
		self,
		"PATCH",
		fmt.Sprintf("%s/public/wishlists/items/%s?token=%s", self.apiUrl, itemId, url.QueryEscape(publicToken)),
		updateItem,
		false,
		&Item{},
		NewNoopApiCallback[*Item](),
	)
}

// public-link variant of CreateContribution. Same shapes, scoped by token.
func (self *WishApi) CreatePublicContributionSync(publicToken string, itemId Id, createContribution *CreateContributionArgs) (*Item, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/public/wishlists/items/%s/contributions?token=%s", self.apiUrl, itemId, url.QueryEscape(publicToken)),
		createContribution,
		false,
		&Item{},
		NewNoopApiCallback[*Item](),
	)
}

type CreateSuggestionArgs struct {
	Title   string `json:"title"`
	LinkUrl string `json:"link_url,omitempty"`
	Message string `json:"message,omitempty"`
}

func (self *WishApi) CreatePublicSuggestionSync(publicToken string, createSuggestion *CreateSuggestionArgs) (*Suggestion, error) {
	return request(
		self,
		"POST",
		fmt.Sprintf("%s/public/wishlists/suggestions?token=%s", self.apiUrl, url.QueryEscape(publicToken)),
		createSuggestion,
		false,
		&Suggestion{},
		NewNoopApiCallback[*Suggestion](),
	)
}

// FastAPI-style error envelope. `detail` is a string, an object with
// code/message, or a list of validation messages.
type errorDetail struct {
	Detail json.RawMessage `json:"detail"`
}

type errorDetailObject struct {
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	CurrentItem *Item  `json:"current_item,omitempty"`
}

type errorDetailValidation struct {
	Msg string `json:"msg"`
}

func decodeApiError(statusCode int, responseBodyBytes []byte) error {
	var envelope errorDetail
	if err := json.Unmarshal(responseBodyBytes, &envelope); err == nil && len(envelope.Detail) != 0 {
		var detailStr string
		if err := json.Unmarshal(envelope.Detail, &detailStr); err == nil {
			return errors.New(detailStr)
		}
		var detailObject errorDetailObject
		if err := json.Unmarshal(envelope.Detail, &detailObject); err == nil && detailObject.Message != "" {
			if statusCode == http.StatusConflict && detailObject.Code == "reservation_conflict" {
				return &ReservationConflictError{
					Message:     detailObject.Message,
					CurrentItem: detailObject.CurrentItem,
				}
			}
			return errors.New(detailObject.Message)
		}
		var detailValidations []errorDetailValidation
		if err := json.Unmarshal(envelope.Detail, &detailValidations); err == nil && 0 < len(detailValidations) {
			return errors.New(detailValidations[0].Msg)
		}
	}
	return fmt.Errorf("request failed (%d)", statusCode)
}

// memberScoped marks calls that only work with a valid authenticated
// session. The bearer credential rides on every call when present (a logged
// in user acting through a public link keeps their identity), but only
// member-scoped calls fire the session-expired signal on 401: an expired
// session must not interrupt a public-token flow.
func request[R any](api *WishApi, method string, url string, args any, memberScoped bool, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(api.ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if api.accessToken != "" {
		auth := fmt.Sprintf("Bearer %s", api.accessToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if http.StatusOK <= r.StatusCode && r.StatusCode < 300 {
		if r.StatusCode == http.StatusNoContent || len(responseBodyBytes) == 0 {
			callback.Result(result, nil)
			return result, nil
		}
		err = json.Unmarshal(responseBodyBytes, &result)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
		callback.Result(result, nil)
		return result, nil
	}

	if r.StatusCode == http.StatusUnauthorized && memberScoped {
		// the authenticated identity is gone. Public-token flows are
		// unaffected and keep running.
		api.sessionExpired()
	}

	err = decodeApiError(r.StatusCode, responseBodyBytes)
	var empty R
	callback.Result(empty, err)
	return empty, err
}
