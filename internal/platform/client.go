// Package platform is the shim over the Platform's wire protocol and web
// session. It wraps github.com/Philipp15b/go-steam/v3 for the
// persistent-session half and a small HTTP/HTML client for the
// web-session half.
package platform

import (
	"context"
	"time"
)

// EResult mirrors the Platform's small set of post-login result codes that
// the Bot state machine must distinguish.
type EResult int

const (
	ResultOK EResult = 1

	ResultInvalidPassword       EResult = 5
	ResultLogonSessionReplaced  EResult = 6
	ResultAccountLogonDenied    EResult = 65
	ResultAccountDisabled       EResult = 7
	ResultNeedTwoFactor         EResult = 88
	ResultTryAnotherCM          EResult = 41
	ResultServiceUnavailable    EResult = 20
	ResultLoggedInElsewhere     EResult = 34
)

// LogOnDetails carries everything the Bot state machine collects before
// issuing a login.
type LogOnDetails struct {
	Login                   string
	Password                string // may be empty if SessionKey is set
	SessionKey              []byte
	AuthCode                string // email one-time code
	TwoFactorCode           string // mobile authenticator code
	SentryFileHash          []byte
	ShouldRememberPassword  bool
	CellID                  uint32
}

// Event is the sum type of protocol callbacks dispatched to a Bot: a
// typed sum consumed from a channel by one task per bot, preserving
// arrival order.
type Event interface{}

// ConnectedEvent fires once the transport connection to the Platform is
// established.
type ConnectedEvent struct{}

// DisconnectedEvent fires when the transport connection drops.
// UserInitiated distinguishes a deliberate stop() from an unexpected drop.
type DisconnectedEvent struct {
	UserInitiated bool
}

// LoggedOnEvent carries the result of a LogOn call.
type LoggedOnEvent struct {
	Result              EResult
	SteamID             uint64
	Universe            uint32
	CellID              uint32
	WebAPIUserNonce     string
	AccountHasParentalPIN bool
	LoggedInElsewhereDelay time.Duration // 0 means "stop, don't retry"
}

// LoginKeyEvent carries a freshly issued remembered session key.
type LoginKeyEvent struct {
	JobID      uint64
	SessionKey []byte
}

// MachineAuthUpdateEvent is the sentry-file challenge/response callback.
type MachineAuthUpdateEvent struct {
	JobID    uint64
	FileName string
	Offset   int64
	Data     []byte
}

// PlayingSessionStateEvent signals that the account is (or is no longer)
// being used to play elsewhere, gating the Cards Farmer.
type PlayingSessionStateEvent struct {
	Blocked bool
}

// NotificationKind distinguishes the notification callbacks the Bot
// state machine cares about.
type NotificationKind int

const (
	NotificationItems NotificationKind = iota + 1
	NotificationTrading
	NotificationGift
)

// NotificationEvent fires when the Platform signals new inventory items,
// new trade activity, or an incoming gift/guest-pass. GiftID is only set
// for NotificationGift.
type NotificationEvent struct {
	Kind   NotificationKind
	GiftID uint64
}

// ChatMessageEvent is an incoming direct message or chat-room message,
// dispatched to the Bot's command parser.
type ChatMessageEvent struct {
	SenderID uint64
	ChatID   uint64 // 0 if this is a direct message, not a chat room post
	Message  string
}

// PurchaseResultDetail classifies a redeemKey outcome into the buckets the
// key-redemption pipeline must distinguish: terminal statuses that end
// processing for that key (OK/DuplicatedKey/InvalidKey), statuses worth
// retrying on another bot (AlreadyOwned/BaseGameRequired/OnCooldown/
// RegionLocked), and everything else.
type PurchaseResultDetail int

const (
	PurchaseNoDetail PurchaseResultDetail = iota
	PurchaseOK
	PurchaseDuplicatedKey
	PurchaseInvalidKey
	PurchaseAlreadyOwned
	PurchaseBaseGameRequired
	PurchaseOnCooldown
	PurchaseRegionLocked
)

// RedeemResult is the outcome of a redeemKey call.
type RedeemResult struct {
	PurchaseResult PurchaseResultDetail
	Items          map[uint32]string // package/app id -> name
}

// FreeLicenseResult is the outcome of a requestFreeLicense call.
type FreeLicenseResult struct {
	Granted bool
	AppIDs  []uint32
}

// Client is the Platform Client shim interface: the minimum surface the
// core depends on.
type Client interface {
	Connect() error
	Disconnect()
	Events() <-chan Event

	LogOn(details LogOnDetails)
	AcceptNewLoginKey(jobID uint64)
	SendMachineAuthResponse(jobID uint64, fileName string, hash []byte, size int64, offset int64)

	PlayGames(ctx context.Context, appIDs []uint32, customName string)
	SendChatMessage(ctx context.Context, recipientID uint64, chatID uint64, message string) error
	RequestFreeLicense(ctx context.Context, appID uint32) (FreeLicenseResult, error)
	RedeemKey(ctx context.Context, key string) (RedeemResult, error)
	RequestWebAPIUserNonce(ctx context.Context) (string, error)
	RequestOfflineMessages(ctx context.Context) error

	SetProxyAddr(addr string) error

	Web() WebSession
}
