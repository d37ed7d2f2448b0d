// Package bot implements the per-account orchestrator: the connect/login/
// web-bootstrap state machine, chat command dispatch, the key-redemption
// pipeline, and the periodic confirmation/loot timers.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/clock"
	"github.com/steamfleet/farmhand/internal/config"
	"github.com/steamfleet/farmhand/internal/farmer"
	"github.com/steamfleet/farmhand/internal/mobileauth"
	"github.com/steamfleet/farmhand/internal/platform"
	"github.com/steamfleet/farmhand/internal/ratelimit"
	"github.com/steamfleet/farmhand/internal/store"
	"github.com/steamfleet/farmhand/internal/trading"
)

// invalidPasswordCooldown is the throttling window imposed after an
// InvalidPassword logon result before reconnecting.
const invalidPasswordCooldown = 25 * time.Minute

// Fleet is the minimal view of the rest of the bot map a single Bot needs
// for fleet-wide commands (statusall/lootall/restart/exit) and key
// forwarding/distribution. Implemented by internal/supervisor.Supervisor;
// kept as an interface here so this package never imports its own caller.
type Fleet interface {
	Others(name string) []*Bot
	All() []*Bot
	RequestExit()
}

// Bot is one account's orchestrator. A single goroutine (run) owns state
// transitions; everything else communicates with it by posting Events
// onto the Platform Client's channel or by calling the small set of
// methods below, all of which are safe for concurrent use.
type Bot struct {
	Name string

	cfg    config.BotConfig
	global config.GlobalConfig
	owner  uint64

	client   platform.Client
	db       *store.BotDatabase
	globalDB *store.GlobalDatabase
	ledger   *store.Ledger

	loginLimiter *ratelimit.Limiter
	giftLimiter  *ratelimit.Limiter

	farmer   *farmer.Farmer
	trading  *trading.Trading
	confirms *mobileauth.Confirmations

	cron *cron.Cron

	fleet Fleet

	log *zap.Logger

	mu               sync.Mutex
	state            State
	keepRunning      bool
	playingBlocked   bool
	invalidPassword  bool
	sessionKeyInUse  bool
	pendingTwoFactor chan string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Bot. client must not yet be connected; db/globalDB/ledger
// are the persisted stores shared per-process (globalDB/ledger) or
// per-account (db); loginLimiter/giftLimiter are the two process-wide
// rate gates that serialize login attempts and gift acceptance.
func New(name string, cfg config.BotConfig, global config.GlobalConfig, ownerID uint64, client platform.Client, db *store.BotDatabase, globalDB *store.GlobalDatabase, ledger *store.Ledger, loginLimiter, giftLimiter *ratelimit.Limiter, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bot{
		Name:             name,
		cfg:              cfg,
		global:           global,
		owner:            ownerID,
		client:           client,
		db:               db,
		globalDB:         globalDB,
		ledger:           ledger,
		loginLimiter:     loginLimiter,
		giftLimiter:      giftLimiter,
		log:              log,
		state:            StateStopped,
		pendingTwoFactor: make(chan string, 1),
	}
	b.farmer = farmer.New(client.Web(), b.playGames, farmer.Config{
		CardDropsRestricted: cfg.CardDropsRestricted,
		Blacklist:           cfg.Blacklist,
		GlobalBlacklist:     global.GlobalBlacklist,
		FarmingDelay:        5 * time.Minute,
		MaxFarmingTime:      2 * time.Hour,
	}, b.onFarmingFinished, log)
	return b
}

// SetFleet wires the fleet-wide view used by fleet commands and the
// key-redemption pipeline's forward/distribute steps. Called once by the
// Supervisor after every Bot has been constructed.
func (b *Bot) SetFleet(f Fleet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fleet = f
}

// Running reports whether the bot's keepRunning flag is set.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keepRunning
}

// State returns the current state-machine node.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start raises keepRunning and launches the connect loop, a no-op if
// already running.
func (b *Bot) Start(ctx context.Context) {
	b.mu.Lock()
	if b.keepRunning {
		b.mu.Unlock()
		return
	}
	b.keepRunning = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	runCtx := b.ctx
	b.mu.Unlock()

	if b.cfg.Proxy != "" {
		if err := b.client.SetProxyAddr(b.cfg.Proxy); err != nil {
			b.log.Warn("proxy setup failed", zap.String("bot", b.Name), zap.Error(err))
		}
	}

	if b.confirms == nil {
		auth := b.db.GetAuthenticator()
		if auth.Enrolled() {
			b.confirms = mobileauth.New(runCtx, b.client.Web(), auth.IdentitySecret, auth.DeviceID)
			b.trading = trading.New(b.client.Web(), b.confirms, trading.Config{
				MasterID:    b.cfg.MasterID,
				TradeToken:  b.cfg.TradeToken,
				WishList:    trading.NewWishList(nil),
				SettleDelay: 5 * time.Second,
			}, b.log)
		}
	}

	go b.run(runCtx)
	go b.startPeriodicTasks(runCtx)
}

// Stop clears keepRunning and disconnects; once stopped the bot will
// not reconnect on its own.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.keepRunning {
		b.mu.Unlock()
		return
	}
	b.keepRunning = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.client.Disconnect()
	if b.cron != nil {
		b.cron.Stop()
	}
	if done != nil {
		<-done
	}
}

func (b *Bot) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// run is the single event-dispatch loop: one goroutine reading
// client.Events() and switching on the concrete event type, with
// reconnect-on-disconnect handled by looping back to the top, gated by
// the same login rate limiter.
func (b *Bot) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := b.loginLimiter.Acquire(ctx); err != nil {
			return
		}
		b.setState(StateConnecting)
		if err := b.client.Connect(); err != nil {
			b.log.Warn("connect failed", zap.String("bot", b.Name), zap.Error(err))
			b.loginLimiter.Release()
			if !clock.After(ctx, 5*time.Second) {
				return
			}
			continue
		}

	eventLoop:
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-b.client.Events():
				if !ok {
					break eventLoop
				}
				if b.handleEvent(ctx, ev) {
					break eventLoop
				}
			}
		}

		b.loginLimiter.Release()
		if !b.Running() {
			return
		}

		wait := invalidPasswordCooldownIf(b.invalidPasswordState())
		if wait > 0 && !clock.After(ctx, wait) {
			return
		}
	}
}

func (b *Bot) invalidPasswordState() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.invalidPassword
	b.invalidPassword = false
	return v
}

func invalidPasswordCooldownIf(invalid bool) time.Duration {
	if invalid {
		return invalidPasswordCooldown
	}
	return 0
}

// handleEvent dispatches one protocol event and reports whether the
// connect loop should break out to reconnect.
func (b *Bot) handleEvent(ctx context.Context, ev platform.Event) (reconnect bool) {
	switch e := ev.(type) {
	case platform.ConnectedEvent:
		b.onConnected(ctx)
	case platform.LoggedOnEvent:
		b.onLoggedOn(ctx, e)
	case platform.DisconnectedEvent:
		b.farmer.OnDisconnected()
		return true
	case platform.LoginKeyEvent:
		b.db.SetSessionKey(e.SessionKey)
		b.client.AcceptNewLoginKey(e.JobID)
	case platform.MachineAuthUpdateEvent:
		b.onMachineAuthUpdate(e)
	case platform.PlayingSessionStateEvent:
		b.onPlayingSessionState(ctx, e)
	case platform.NotificationEvent:
		b.onNotification(ctx, e)
	case platform.ChatMessageEvent:
		b.onChatMessage(ctx, e)
	}
	return false
}

func (b *Bot) onConnected(ctx context.Context) {
	b.setState(StateLoggingIn)

	details := platform.LogOnDetails{
		Login:                  b.cfg.Login,
		ShouldRememberPassword: true,
		CellID:                 b.globalDB.Get(),
	}
	if key := b.db.SessionKeyBytes(); len(key) > 0 {
		details.SessionKey = key
		b.sessionKeyInUse = true
	} else {
		details.Password = b.cfg.Password
		b.sessionKeyInUse = false
	}
	details.SentryFileHash = b.db.SentryFileHash()

	if code, ok := b.consumePendingTwoFactor(); ok {
		details.TwoFactorCode = code
	} else if auth := b.db.GetAuthenticator(); auth.Enrolled() {
		now := time.Now()
		if code, err := mobileauth.GenerateAuthCode(auth.SharedSecret, now); err == nil {
			details.TwoFactorCode = code
			if remaining := mobileauth.SecondsRemaining(now); remaining < 2 {
				// The bucket is about to roll over before the server sees
				// this LogOn; regenerate against the next one instead of
				// risking a rejected code.
				if code, err := mobileauth.GenerateAuthCode(auth.SharedSecret, now.Add(time.Duration(remaining)*time.Second)); err == nil {
					details.TwoFactorCode = code
				}
			}
		}
	}

	b.client.LogOn(details)
}

// consumePendingTwoFactor takes an operator-supplied code queued by the
// !2fa chat command, if one is waiting.
func (b *Bot) consumePendingTwoFactor() (string, bool) {
	select {
	case code := <-b.pendingTwoFactor:
		return code, true
	default:
		return "", false
	}
}

// submitTwoFactor queues an operator-supplied code for the next login
// attempt, reporting false if one was already queued and not yet
// consumed.
func (b *Bot) submitTwoFactor(code string) bool {
	select {
	case b.pendingTwoFactor <- code:
		return true
	default:
		return false
	}
}

func (b *Bot) onLoggedOn(ctx context.Context, e platform.LoggedOnEvent) {
	switch e.Result {
	case platform.ResultOK:
		b.globalDB.SetCellID(e.CellID)
		b.setState(StateWebBootstrapping)
		b.bootstrapWeb(ctx, e)
	case platform.ResultInvalidPassword:
		if b.sessionKeyInUse {
			// The session key, not the account password, was rejected — it
			// has expired. Clear it and reconnect immediately; the
			// password-retry cooldown below only applies when there was no
			// session key to blame.
			b.db.ClearSessionKey()
		} else {
			b.mu.Lock()
			b.invalidPassword = true
			b.mu.Unlock()
		}
		b.client.Disconnect()
	case platform.ResultNeedTwoFactor:
		auth := b.db.GetAuthenticator()
		if auth.Enrolled() {
			b.log.Warn("two-factor code rejected", zap.String("bot", b.Name))
		}
		b.client.Disconnect()
	case platform.ResultAccountLogonDenied:
		b.log.Warn("account logon denied, email code required", zap.String("bot", b.Name))
		b.client.Disconnect()
	default:
		b.client.Disconnect()
	}
}

func (b *Bot) bootstrapWeb(ctx context.Context, e platform.LoggedOnEvent) {
	ok, err := b.client.Web().Init(ctx, e.SteamID, e.Universe, e.WebAPIUserNonce, b.cfg.ParentalPIN)
	if err != nil || !ok {
		if nonce, nerr := b.client.RequestWebAPIUserNonce(ctx); nerr == nil {
			ok, err = b.client.Web().Init(ctx, e.SteamID, e.Universe, nonce, b.cfg.ParentalPIN)
		}
	}
	if err != nil || !ok {
		b.log.Warn("web session bootstrap failed", zap.String("bot", b.Name), zap.Error(err))
		b.client.Disconnect()
		return
	}

	if b.cfg.DismissInventoryNotifications {
		b.client.Web().MarkInventory(ctx)
	}
	if b.cfg.MasterClanID != 0 {
		b.client.Web().JoinGroup(ctx, b.cfg.MasterClanID)
	}
	if b.global.StatisticsEnabled && b.global.StatisticsGroup != 0 {
		b.client.Web().JoinGroup(ctx, b.global.StatisticsGroup)
	}

	clock.After(ctx, time.Second)

	b.setState(StateReady)
	if !b.cfg.FarmOffline {
		b.farmer.Start(ctx)
	}
}

func (b *Bot) onMachineAuthUpdate(e platform.MachineAuthUpdateEvent) {
	full, err := b.db.AppendSentryBytes(e.Offset, e.Data)
	if err != nil {
		b.log.Warn("sentry update failed", zap.String("bot", b.Name), zap.Error(err))
		return
	}
	hash := sha1Sum(full)
	b.db.SetSentryHash(hash)
	b.client.SendMachineAuthResponse(e.JobID, e.FileName, hash, int64(len(full)), e.Offset)
}

func (b *Bot) onPlayingSessionState(ctx context.Context, e platform.PlayingSessionStateEvent) {
	b.mu.Lock()
	b.playingBlocked = e.Blocked
	wasReady := b.state == StateReady || b.state == StatePlayingBlocked
	if e.Blocked {
		b.state = StatePlayingBlocked
	} else if wasReady {
		b.state = StateReady
	}
	b.mu.Unlock()

	b.farmer.SetPlayingBlocked(ctx, e.Blocked)
}

func (b *Bot) onNotification(ctx context.Context, e platform.NotificationEvent) {
	switch e.Kind {
	case platform.NotificationItems:
		b.farmer.OnNewItemsNotification()
		if b.cfg.DismissInventoryNotifications {
			b.client.Web().MarkInventory(ctx)
		}
	case platform.NotificationTrading:
		if b.trading != nil {
			go b.trading.CheckTrades(ctx)
		}
	case platform.NotificationGift:
		if b.cfg.AcceptGifts {
			go b.acceptGift(ctx, e.GiftID)
		}
	}
}

// acceptGift accepts a single incoming gift, gated by the process-wide
// gift rate limiter.
func (b *Bot) acceptGift(ctx context.Context, giftID uint64) {
	if err := b.giftLimiter.Acquire(ctx); err != nil {
		return
	}
	defer b.giftLimiter.Release()

	ok, err := b.client.Web().AcceptGift(ctx, giftID)
	if err != nil {
		b.log.Warn("accept gift failed", zap.String("bot", b.Name), zap.Uint64("giftId", giftID), zap.Error(err))
		return
	}
	if !ok {
		b.log.Warn("accept gift not accepted", zap.String("bot", b.Name), zap.Uint64("giftId", giftID))
	}
}

func (b *Bot) onFarmingFinished(any bool) {
	if any && b.cfg.SendOnFarmingFinished && b.trading != nil {
		go b.trading.SendLoot(b.ctx)
	}
	if b.cfg.ShutdownOnFarmingFinished {
		go b.Stop()
	}
}

func (b *Bot) playGames(ctx context.Context, appIDs []uint32, customName string) {
	b.client.PlayGames(ctx, appIDs, customName)
}

// startPeriodicTasks wires the two cron-style jobs: accepting outstanding
// confirmations and sending loot, each at the account's configured period
// (0 disables the job). robfig/cron drives these two specifically because
// their schedule is operator-configurable per bot; clock.PeriodicTask
// covers the same "tick until ctx is cancelled" shape for fixed-interval
// internal loops that have no such per-bot schedule to parse.
func (b *Bot) startPeriodicTasks(ctx context.Context) {
	c := cron.New()
	b.mu.Lock()
	b.cron = c
	b.mu.Unlock()

	if b.cfg.AcceptConfirmationsPeriod > 0 {
		spec := fmt.Sprintf("@every %s", b.cfg.AcceptConfirmationsPeriod)
		c.AddFunc(spec, func() {
			if b.confirms != nil {
				// acceptAll(true): no filter, every pending confirmation of
				// every type is accepted.
				b.confirms.AcceptMatching(ctx, nil)
			}
		})
	}
	if b.cfg.SendTradePeriod > 0 {
		spec := fmt.Sprintf("@every %s", b.cfg.SendTradePeriod)
		c.AddFunc(spec, func() {
			if b.trading != nil {
				b.trading.SendLoot(ctx)
			}
		})
	}
	c.Start()

	<-ctx.Done()
	c.Stop()
}
