package mobileauth

import (
	"context"
	"fmt"

	"github.com/steamfleet/farmhand/internal/platform"
)

// requestKind distinguishes the four confirmation operations that share
// the single worker loop below.
type requestKind int

const (
	kindFetch requestKind = iota + 1
	kindDetails
	kindAccept
	kindDeny
)

type request struct {
	kind requestKind
	conf platform.Confirmation
	resp chan response
}

type response struct {
	confirmations []platform.Confirmation
	confirmation  platform.Confirmation
	err           error
}

// Confirmations serializes all mobile-authenticator confirmation traffic
// for one bot through a single worker, using a request-channel/
// response-channel idiom: never let two confirmation actions race
// against the same identity-secret-derived signature window.
type Confirmations struct {
	web            platform.WebSession
	identitySecret string
	deviceID       string

	requests chan request
}

// New starts the confirmation worker for one bot. Callers must cancel ctx
// (or let it expire) to stop the worker; Accept/Deny/Fetch calls made
// after that are never served and block until their own ctx is done, so
// callers should always pass a ctx tied to the bot's own lifetime.
func New(ctx context.Context, web platform.WebSession, identitySecret, deviceID string) *Confirmations {
	c := &Confirmations{
		web:            web,
		identitySecret: identitySecret,
		deviceID:       deviceID,
		requests:       make(chan request),
	}
	go c.run(ctx)
	return c
}

func (c *Confirmations) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			req.resp <- c.handle(ctx, req)
		}
	}
}

func (c *Confirmations) handle(ctx context.Context, req request) response {
	switch req.kind {
	case kindFetch:
		list, err := c.web.FetchConfirmations(ctx, c.identitySecret, c.deviceID)
		return response{confirmations: list, err: err}
	case kindDetails:
		full, err := c.web.GetConfirmationDetails(ctx, req.conf, c.identitySecret, c.deviceID)
		return response{confirmation: full, err: err}
	case kindAccept:
		err := c.web.HandleConfirmation(ctx, req.conf, true, c.identitySecret, c.deviceID)
		return response{err: err}
	case kindDeny:
		err := c.web.HandleConfirmation(ctx, req.conf, false, c.identitySecret, c.deviceID)
		return response{err: err}
	default:
		return response{err: fmt.Errorf("mobileauth: unknown request kind %d", req.kind)}
	}
}

func (c *Confirmations) do(ctx context.Context, req request) (response, error) {
	req.resp = make(chan response, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.resp:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Fetch lists pending confirmations.
func (c *Confirmations) Fetch(ctx context.Context) ([]platform.Confirmation, error) {
	resp, err := c.do(ctx, request{kind: kindFetch})
	if err != nil {
		return nil, err
	}
	return resp.confirmations, resp.err
}

// Details resolves the full description of a single confirmation (the
// trade-offer id or market listing it guards).
func (c *Confirmations) Details(ctx context.Context, conf platform.Confirmation) (platform.Confirmation, error) {
	resp, err := c.do(ctx, request{kind: kindDetails, conf: conf})
	if err != nil {
		return platform.Confirmation{}, err
	}
	return resp.confirmation, resp.err
}

// Accept approves a pending confirmation.
func (c *Confirmations) Accept(ctx context.Context, conf platform.Confirmation) error {
	resp, err := c.do(ctx, request{kind: kindAccept, conf: conf})
	if err != nil {
		return err
	}
	return resp.err
}

// Deny rejects a pending confirmation.
func (c *Confirmations) Deny(ctx context.Context, conf platform.Confirmation) error {
	resp, err := c.do(ctx, request{kind: kindDeny, conf: conf})
	if err != nil {
		return err
	}
	return resp.err
}

// ConfirmationFilter narrows a batch AcceptMatching call down to a subset
// of the fetched confirmation list; confirmations it rejects are left
// pending. A nil filter matches everything, the unconditional
// acceptAll(true) shape the periodic acceptConfirmationsPeriod timer uses.
type ConfirmationFilter func(ctx context.Context, c *Confirmations, conf platform.Confirmation) (bool, error)

// ByType matches confirmations of exactly the given type, the targeted
// invocation !2faok uses to clear only Trade confirmations.
func ByType(want platform.ConfirmationType) ConfirmationFilter {
	return func(ctx context.Context, c *Confirmations, conf platform.Confirmation) (bool, error) {
		return conf.Type == want, nil
	}
}

// ByTradeOfferIDs matches Trade confirmations whose CreatorID — the
// trade-offer-id a Trade confirmation guards, already resolved by the
// list row (see GetConfirmationDetails) — is one of accepted. Every other
// confirmation, including non-Trade ones, is left pending.
func ByTradeOfferIDs(accepted map[uint64]bool) ConfirmationFilter {
	return func(ctx context.Context, c *Confirmations, conf platform.Confirmation) (bool, error) {
		return conf.Type == platform.ConfirmationTrade && accepted[conf.CreatorID], nil
	}
}

// ByOtherParty matches Trade confirmations whose trade offer was sent to
// or received from otherPartyID. offers supplies the trade-offer-id ->
// partner-id mapping (for example incoming offers, or an offer the caller
// has just sent); a confirmation whose offer is not in offers does not
// match. Resolving it costs a details fetch per candidate confirmation, mirroring
// the per-confirmation lookup this filtering mode requires.
func ByOtherParty(otherPartyID uint64, offers []platform.TradeOffer) ConfirmationFilter {
	partnerOf := make(map[uint64]uint64, len(offers))
	for _, o := range offers {
		partnerOf[o.ID] = o.PartnerID
	}
	return func(ctx context.Context, c *Confirmations, conf platform.Confirmation) (bool, error) {
		if conf.Type != platform.ConfirmationTrade {
			return false, nil
		}
		full, err := c.Details(ctx, conf)
		if err != nil {
			return false, err
		}
		return partnerOf[full.CreatorID] == otherPartyID, nil
	}
}

// AcceptMatching fetches the current confirmation list and accepts every
// entry filter lets through, returning how many were accepted. A nil
// filter accepts everything; used by the Bot's periodic
// acceptConfirmationsPeriod timer to clear every pending confirmation
// without operator involvement.
func (c *Confirmations) AcceptMatching(ctx context.Context, filter ConfirmationFilter) (int, error) {
	list, err := c.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, conf := range list {
		if filter != nil {
			ok, err := filter(ctx, c, conf)
			if err != nil {
				return accepted, fmt.Errorf("resolve confirmation %d: %w", conf.ID, err)
			}
			if !ok {
				continue
			}
		}
		if err := c.Accept(ctx, conf); err != nil {
			return accepted, fmt.Errorf("accept confirmation %d: %w", conf.ID, err)
		}
		accepted++
	}
	return accepted, nil
}
