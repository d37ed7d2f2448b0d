// Package trading implements deciding incoming trade offers and sending
// outbound loot offers to a bot's configured master.
package trading

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/clock"
	"github.com/steamfleet/farmhand/internal/mobileauth"
	"github.com/steamfleet/farmhand/internal/platform"
)

// Config carries the per-bot settings CheckTrades/SendLoot need, read from
// internal/config.BotConfig at construction time.
type Config struct {
	MasterID   uint64
	TradeToken string
	WishList   WishList
	// SettleDelay is how long sendLoot waits after sending an offer before
	// polling for the confirmation it expects to need.
	SettleDelay time.Duration
}

// Trading is the per-bot trade-offer handler. checkTrades and sendLoot are
// each serialized against concurrent re-entry by their own gate, admitting
// at most one running instance of each; the two are independent of each
// other so a slow checkTrades round never blocks a scheduled sendLoot.
type Trading struct {
	web      platform.WebSession
	confirms *mobileauth.Confirmations
	cfg      Config
	log      *zap.Logger

	checkGate clock.OneAtATime
	lootGate  clock.OneAtATime
}

// New builds a Trading handler for one bot. confirms may be nil if the
// account has no enrolled Mobile Authenticator, in which case offers that
// need a confirmation are accepted web-side only and may silently fail to
// clear server-side — matching the real Steam behavior of an offer stuck
// pending confirmation forever.
func New(web platform.WebSession, confirms *mobileauth.Confirmations, cfg Config, log *zap.Logger) *Trading {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trading{web: web, confirms: confirms, cfg: cfg, log: log}
}

// CheckTrades fetches active incoming offers and resolves each: master's
// offers are accepted outright, give-nothing-get-something donations are
// accepted outright, give-something-get-nothing offers are declined
// outright, and everything else is evaluated against the wish-list.
func (t *Trading) CheckTrades(ctx context.Context) error {
	if !t.checkGate.TryEnter() {
		return nil
	}
	defer t.checkGate.Exit()

	offers, err := t.web.GetIncomingTradeOffers(ctx)
	if err != nil {
		return fmt.Errorf("checkTrades: fetch offers: %w", err)
	}

	for _, offer := range offers {
		d := decide(offer, t.cfg.MasterID)
		if d == decisionEvaluate {
			if t.cfg.WishList.Allows(offer.ItemsToReceive) {
				d = decisionAccept
			} else {
				d = decisionDecline
			}
		}

		switch d {
		case decisionAccept:
			if err := t.acceptOffer(ctx, offer); err != nil {
				t.log.Warn("accept trade offer failed", zap.Uint64("offerId", offer.ID), zap.Error(err))
			}
		case decisionDecline:
			if err := t.web.DeclineTradeOffer(ctx, offer.ID); err != nil {
				t.log.Warn("decline trade offer failed", zap.Uint64("offerId", offer.ID), zap.Error(err))
			}
		}
	}
	return nil
}

func (t *Trading) acceptOffer(ctx context.Context, offer platform.TradeOffer) error {
	ok, err := t.web.AcceptTradeOffer(ctx, offer.ID)
	if err != nil {
		return err
	}
	if ok || !offer.ConfirmationNeeded || t.confirms == nil {
		return nil
	}
	// The web-side accept is staged pending a Mobile Authenticator
	// confirmation; clear exactly that trade-offer-id and nothing else.
	return t.acceptConfirmationFor(ctx, offer.ID)
}

// acceptConfirmationFor finds the pending confirmation guarding a specific
// trade-offer-id and accepts only that one, leaving every other pending
// confirmation untouched.
func (t *Trading) acceptConfirmationFor(ctx context.Context, offerID uint64) error {
	n, err := t.confirms.AcceptMatching(ctx, mobileauth.ByTradeOfferIDs(map[uint64]bool{offerID: true}))
	if err != nil {
		return fmt.Errorf("accept confirmation for offer %d: %w", offerID, err)
	}
	if n == 0 {
		return fmt.Errorf("no pending confirmation found for trade offer %d", offerID)
	}
	return nil
}

// SendLoot enumerates the bot's own inventory and sends a single outbound
// offer of everything tradable to the configured master, then waits for
// the settle delay and clears any resulting trade confirmation.
func (t *Trading) SendLoot(ctx context.Context) error {
	if t.cfg.MasterID == 0 {
		return nil
	}
	if !t.lootGate.TryEnter() {
		return nil
	}
	defer t.lootGate.Exit()

	items, err := t.web.GetMyInventory(ctx, true)
	if err != nil {
		return fmt.Errorf("sendLoot: inventory: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	offerID, err := t.web.SendTradeOffer(ctx, items, t.cfg.MasterID, t.cfg.TradeToken)
	if err != nil {
		return fmt.Errorf("sendLoot: send offer: %w", err)
	}

	if t.confirms == nil || offerID == 0 {
		return nil
	}

	if t.cfg.SettleDelay > 0 {
		if !clock.After(ctx, t.cfg.SettleDelay) {
			return ctx.Err()
		}
	}

	// Accept the Trade confirmation this offer produced through
	// ByOtherParty with master's steam-id. The only offer-id -> partner
	// mapping passed in is this offer's, so only a confirmation whose
	// resolved CreatorID is offerID matches; Trade confirmations for other
	// offers to master are left pending.
	sent := []platform.TradeOffer{{ID: offerID, PartnerID: t.cfg.MasterID}}
	n, err := t.confirms.AcceptMatching(ctx, mobileauth.ByOtherParty(t.cfg.MasterID, sent))
	if err != nil {
		return fmt.Errorf("sendLoot: accept confirmation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no pending confirmation found for trade offer %d", offerID)
	}
	return nil
}
