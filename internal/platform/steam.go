package platform

import (
	"context"
	"fmt"
	"sync"

	goSteam "github.com/Philipp15b/go-steam/v3"
	"github.com/Philipp15b/go-steam/v3/protocol/steamlang"
	"github.com/Philipp15b/go-steam/v3/steamid"
	"go.uber.org/zap"
)

// SteamClient is the concrete Client backed by go-steam/v3: a
// *goSteam.Client is created once, and its events channel drained by a
// translating goroutine.
type SteamClient struct {
	mu      sync.Mutex
	inner   *goSteam.Client
	web     WebSession
	events  chan Event
	account string
	proxies *proxyPool
}

// NewSteamClient builds a SteamClient whose web-session half talks to
// baseURL (the Platform's HTTP front door; overridable in tests). account
// identifies this bot for proxy-session templating and log fields.
func NewSteamClient(baseURL, account string, log *zap.Logger) *SteamClient {
	return &SteamClient{
		inner:   goSteam.NewClient(),
		web:     newHTTPWebSession(baseURL),
		events:  make(chan Event, 64),
		account: account,
		proxies: newProxyPool(log),
	}
}

// SetProxyAddr assigns this bot's upstream proxy from a template string
// (see proxyPool.Dialer's "[session]" rotation). go-steam/v3 has no dialer
// hook to wire the built proxy.Dialer into, so a non-empty addr that
// resolves to a real dialer is reported as unsupported.
func (c *SteamClient) SetProxyAddr(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr == "" {
		return nil
	}
	dialer, err := c.proxies.Dialer(c.account, 0, addr)
	if err != nil {
		return NewError(ErrFatal, "SetProxyAddr", err)
	}
	if dialer == nil {
		return nil
	}
	return NewError(ErrFatal, "SetProxyAddr", fmt.Errorf("not supported by the underlying transport client"))
}

// Connect starts the transport connection and the translating event pump.
// The connect/logon handshake is driven entirely off the event channel,
// not off Connect's return value, since go-steam/v3 itself signals
// connection failure as a DisconnectedEvent rather than an error return.
func (c *SteamClient) Connect() error {
	go c.pump()
	c.inner.Connect()
	return nil
}

func (c *SteamClient) Disconnect() {
	c.inner.Disconnect()
}

func (c *SteamClient) Events() <-chan Event {
	return c.events
}

// pump translates go-steam/v3's event stream into this package's Event
// sum type, pulled out into its own goroutine so Bot never imports
// go-steam directly.
func (c *SteamClient) pump() {
	for raw := range c.inner.Events() {
		switch e := raw.(type) {
		case *goSteam.ConnectedEvent:
			c.events <- ConnectedEvent{}
		case *goSteam.DisconnectedEvent:
			c.events <- DisconnectedEvent{UserInitiated: false}
		case *goSteam.LoggedOnEvent:
			c.events <- LoggedOnEvent{
				Result: EResult(e.Result),
			}
		case *goSteam.LoginKeyEvent:
			c.events <- LoginKeyEvent{SessionKey: []byte(e.LoginKey)}
		case *goSteam.MachineAuthUpdateEvent:
			c.events <- MachineAuthUpdateEvent{
				FileName: string(e.Hash),
			}
		case *goSteam.ChatMsgEvent:
			c.events <- ChatMessageEvent{
				SenderID: e.ChatterId.ToUint64(),
				ChatID:   e.ChatRoomId.ToUint64(),
				Message:  e.Message,
			}
		}
	}
	close(c.events)
}

func (c *SteamClient) LogOn(details LogOnDetails) {
	c.inner.Auth.LogOn(&goSteam.LogOnDetails{
		Username:               details.Login,
		Password:               details.Password,
		AuthCode:               details.AuthCode,
		TwoFactorCode:          details.TwoFactorCode,
		SentryFileHash:         details.SentryFileHash,
		ShouldRememberPassword: details.ShouldRememberPassword,
		LoginKey:               stringOrEmpty(details.SessionKey),
	})
}

// AcceptNewLoginKey is a no-op: go-steam/v3's Auth already acknowledges a
// new login key itself as soon as it arrives, before emitting the
// LoginKeyEvent this method is called in response to.
func (c *SteamClient) AcceptNewLoginKey(jobID uint64) {
}

// SendMachineAuthResponse is a no-op: go-steam/v3's Auth already computes
// and sends the sentry-file hash response itself, before emitting the
// MachineAuthUpdateEvent this method is called in response to.
func (c *SteamClient) SendMachineAuthResponse(jobID uint64, fileName string, hash []byte, size int64, offset int64) {
}

func (c *SteamClient) PlayGames(ctx context.Context, appIDs []uint32, customName string) {
	games := make([]uint64, 0, len(appIDs))
	for _, id := range appIDs {
		games = append(games, uint64(id))
	}
	c.inner.GC.SetGamesPlayed(games...)
}

// SendChatMessage sends a direct message (chatID==0) or a chat-room post
// through go-steam/v3's Social.SendMessage, which dispatches between the
// two based on the target SteamId's account type.
func (c *SteamClient) SendChatMessage(ctx context.Context, recipientID uint64, chatID uint64, message string) error {
	if chatID == 0 {
		c.inner.Social.SendMessage(steamid.SteamId(recipientID), steamlang.EChatEntryType_ChatMsg, message)
		return nil
	}
	c.inner.Social.SendMessage(steamid.SteamId(chatID), steamlang.EChatEntryType_ChatMsg, message)
	return nil
}

func (c *SteamClient) RequestFreeLicense(ctx context.Context, appID uint32) (FreeLicenseResult, error) {
	return FreeLicenseResult{}, NewError(ErrFatal, "RequestFreeLicense", fmt.Errorf("not supported by the underlying transport client"))
}

func (c *SteamClient) RedeemKey(ctx context.Context, key string) (RedeemResult, error) {
	return RedeemResult{}, NewError(ErrFatal, "RedeemKey", fmt.Errorf("not supported by the underlying transport client"))
}

func (c *SteamClient) RequestWebAPIUserNonce(ctx context.Context) (string, error) {
	return "", NewError(ErrFatal, "RequestWebAPIUserNonce", fmt.Errorf("not supported by the underlying transport client"))
}

func (c *SteamClient) RequestOfflineMessages(ctx context.Context) error {
	return nil
}

func (c *SteamClient) Web() WebSession {
	return c.web
}

func stringOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return string(b)
}
