package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/joho/godotenv"

	"github.com/wishwell/wishsync/wishsync"
)

const DefaultApiUrl = "http://localhost:8000/api/v1"
const DefaultWsUrl = "ws://localhost:8000/api/v1/ws"

const LocalVersion = "0.0.0-local"

func main() {
	godotenv.Load()

	usage := fmt.Sprintf(
		`Wishlist live watcher.

The default urls are:
    api_url: %s
    ws_url: %s

Usage:
    watchctl watch --list=<list_id> [--email=<email>] [--password=<password>]
        [--api_url=<api_url>] [--ws_url=<ws_url>]
    watchctl watch --public_token=<public_token>
        [--api_url=<api_url>] [--ws_url=<ws_url>]
    watchctl reserve <item_id> --list=<list_id> --status=<status>
        [--email=<email>] [--password=<password>] [--public_token=<public_token>]
        [--api_url=<api_url>]
    watchctl chipin <item_id> --list=<list_id> --amount=<amount> [--paid]
        [--email=<email>] [--password=<password>] [--public_token=<public_token>]
        [--api_url=<api_url>]
    watchctl delete <item_id> --list=<list_id>
        [--email=<email>] [--password=<password>]
        [--api_url=<api_url>]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --list=<list_id>                 Wishlist id.
    --public_token=<public_token>    Public link token (anonymous access).
    --email=<email>
    --password=<password>
    --status=<status>                One of available, reserved, purchased.
    --amount=<amount>                Chip-in amount, > 0.
    --paid                           Record the chip-in as paid, not pledged.`,
		DefaultApiUrl,
		DefaultWsUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if reserve_, _ := opts.Bool("reserve"); reserve_ {
		reserve(opts)
	} else if chipin_, _ := opts.Bool("chipin"); chipin_ {
		chipin(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteItem(opts)
	}
}

type session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	api         *wishsync.WishApi
	store       *wishsync.ListStore
	gateway     *wishsync.MutationGateway
	target      *wishsync.SubscriptionTarget
	wsUrl       string
	publicToken string
	wishlistId  wishsync.Id
}

func newSession(opts docopt.Opts, needList bool) *session {
	cancelCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		select {
		case <-cancelCtx.Done():
		case <-sig:
		}
	}()

	apiUrl := optString(opts, "--api_url", envOr("WISHSYNC_API_URL", DefaultApiUrl))
	wsUrl := optString(opts, "--ws_url", envOr("WISHSYNC_WS_URL", DefaultWsUrl))
	publicToken := optString(opts, "--public_token", "")

	api := wishsync.NewWishApiWithContext(cancelCtx, apiUrl)
	api.AddSessionExpiredListener(func() {
		fmt.Println("session expired, log in again")
		cancel()
	})

	s := &session{
		ctx:         cancelCtx,
		cancel:      cancel,
		api:         api,
		store:       wishsync.NewListStore(),
		wsUrl:       wsUrl,
		publicToken: publicToken,
	}

	var wishlistId wishsync.Id
	if needList || publicToken == "" {
		wishlistIdStr := opts["--list"].(string)
		var err error
		wishlistId, err = wishsync.ParseId(wishlistIdStr)
		if err != nil {
			panic(err)
		}
		s.wishlistId = wishlistId
	}

	if publicToken != "" {
		s.target = wishsync.NewPublicTarget(publicToken)
		s.gateway = wishsync.NewPublicMutationGateway(cancelCtx, api, s.store, publicToken)
		return s
	}

	accessToken := login(cancelCtx, api, opts)
	api.SetAccessToken(accessToken)
	if claims, err := wishsync.ParseAccessClaimsUnverified(accessToken); err == nil {
		fmt.Printf("user_id: %s\n", claims.UserId)
	}

	s.target = wishsync.NewMemberTarget(wishlistId, accessToken)
	s.gateway = wishsync.NewMutationGateway(cancelCtx, api, s.store, wishlistId, wishsync.NewNotificationBus())
	return s
}

func watch(opts docopt.Opts) {
	s := newSession(opts, false)
	defer s.cancel()

	s.store.AddChangeListener(func() {
		items := s.store.Items()
		fmt.Printf("---- %d items\n", len(items))
		for _, item := range items {
			line := fmt.Sprintf("%s  %-10s  %s", item.ItemId, item.ReservationStatus, item.Title)
			if 0 < item.ContributedTotal {
				line += fmt.Sprintf("  (chipped in %.2f/%.2f)", item.ContributedTotal, item.Price)
			}
			fmt.Println(line)
		}
	})

	hooks := &wishsync.DispatcherHooks{
		SuggestionAdded: func(suggestion *wishsync.Suggestion) {
			fmt.Printf("suggestion: %s (%s)\n", suggestion.Title, suggestion.SuggestionId)
		},
		SuggestionRemoved: func(suggestionId wishsync.Id) {
			fmt.Printf("suggestion resolved: %s\n", suggestionId)
		},
	}
	dispatcher := wishsync.NewEventDispatcher(s.store, hooks)

	settings := wishsync.DefaultSubscriberSettings()
	settings.ResyncFunc = s.gateway.Resync

	subscriber := wishsync.NewSubscriber(s.ctx, s.wsUrl, s.target, dispatcher, settings)
	defer subscriber.Close()

	subscriber.AddStateListener(func(state wishsync.SubscriberState) {
		switch state {
		case wishsync.SubscriberStateLive:
			fmt.Println("connected")
		case wishsync.SubscriberStateReconnectWait:
			if subscriber.Reconnecting() {
				fmt.Println("reconnecting...")
			}
		}
	})

	select {
	case <-s.ctx.Done():
	case <-subscriber.Done():
	}
}

func reserve(opts docopt.Opts) {
	s := newSession(opts, true)
	defer s.cancel()

	itemId := requireItemId(opts)
	status := opts["--status"].(string)

	s.gateway.Resync(s.ctx)

	item, err := s.gateway.SetReservationStatusSync(itemId, status)
	if err != nil {
		if notice := s.gateway.Notice(); notice != nil && notice.Conflict {
			fmt.Printf("conflict: %s\n", notice.Message)
			if current, ok := s.store.Get(itemId); ok {
				fmt.Printf("current status: %s\n", current.ReservationStatus)
			}
			os.Exit(1)
		}
		panic(err)
	}
	fmt.Printf("%s is now %s\n", item.Title, item.ReservationStatus)
}

func chipin(opts docopt.Opts) {
	s := newSession(opts, true)
	defer s.cancel()

	itemId := requireItemId(opts)
	amount, err := strconv.ParseFloat(opts["--amount"].(string), 64)
	if err != nil {
		panic(err)
	}
	status := wishsync.ContributionPledged
	if paid_, _ := opts.Bool("--paid"); paid_ {
		status = wishsync.ContributionPaid
	}

	item, err := s.gateway.ContributeSync(itemId, amount, status)
	if err != nil {
		panic(err)
	}
	fmt.Printf(
		"%s: %.2f pledged + %.2f paid = %.2f\n",
		item.Title,
		item.ContributedPledged,
		item.ContributedPaid,
		item.ContributedTotal,
	)
}

func deleteItem(opts docopt.Opts) {
	s := newSession(opts, true)
	defer s.cancel()

	itemId := requireItemId(opts)

	if _, err := s.gateway.DeleteItemSync(itemId); err != nil {
		panic(err)
	}
	fmt.Printf("deleted %s\n", itemId)
}

func login(ctx context.Context, api *wishsync.WishApi, opts docopt.Opts) string {
	if accessToken := os.Getenv("WISHSYNC_ACCESS_TOKEN"); accessToken != "" {
		if emailAny := opts["--email"]; emailAny == nil {
			return accessToken
		}
	}

	emailAny := opts["--email"]
	if emailAny == nil {
		panic(fmt.Errorf("either --email or WISHSYNC_ACCESS_TOKEN is required"))
	}
	email := emailAny.(string)

	var password string
	if passwordAny := opts["--password"]; passwordAny != nil {
		password = passwordAny.(string)
	} else {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
		fmt.Printf("\n")
	}

	loginCallback, loginChannel := wishsync.NewBlockingApiCallback[*wishsync.TokenResult](ctx)

	loginArgs := &wishsync.AuthLoginArgs{
		Email:    email,
		Password: password,
	}
	api.AuthLogin(loginArgs, loginCallback)

	var loginResult wishsync.ApiCallbackResult[*wishsync.TokenResult]
	select {
	case <-ctx.Done():
		os.Exit(0)
	case loginResult = <-loginChannel:
	}

	if loginResult.Error != nil {
		panic(loginResult.Error)
	}

	return loginResult.Result.AccessToken
}

func requireItemId(opts docopt.Opts) wishsync.Id {
	itemId, err := wishsync.ParseId(opts["<item_id>"].(string))
	if err != nil {
		panic(err)
	}
	return itemId
}

func optString(opts docopt.Opts, key string, defaultValue string) string {
	if valueAny := opts[key]; valueAny != nil {
		return valueAny.(string)
	}
	return defaultValue
}

func envOr(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func RequireVersion() string {
	if version := os.Getenv("WISHSYNC_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
