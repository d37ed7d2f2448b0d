package trading

import "github.com/steamfleet/farmhand/internal/platform"

// WishList is the configurable allow-list deciding which item categories
// this bot is willing to receive in a trade it didn't itself propose,
// matched by steamTradingType tag category. A deliberately simple
// design: an allow-list of tag values, checked against every item the
// offer would give us.
type WishList struct {
	AllowedTags map[string]bool
}

// NewWishList builds an allow-list from a flat slice of tag values, the
// shape a config file naturally serializes to.
func NewWishList(tags []string) WishList {
	w := WishList{AllowedTags: make(map[string]bool, len(tags))}
	for _, t := range tags {
		w.AllowedTags[t] = true
	}
	return w
}

// Allows reports whether every item the offer would give us carries a tag
// on the allow-list. An item with no tags at all never matches — the
// allow-list can only admit items it recognizes.
func (w WishList) Allows(items []platform.Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !w.allowsItem(it) {
			return false
		}
	}
	return true
}

func (w WishList) allowsItem(it platform.Item) bool {
	for _, tag := range it.Tags {
		if w.AllowedTags[tag] {
			return true
		}
	}
	return false
}

// decision is the outcome of evaluating one incoming offer.
type decision int

const (
	decisionDecline decision = iota
	decisionAccept
	decisionEvaluate // fall through to wish-list matching
)

// decide implements checkTrades' evaluation ordering: master's offers
// are always accepted outright, pure give-nothing-get-something offers
// ("strictly a donation") are accepted outright, offers that take
// something from us while giving nothing back are declined outright, and
// everything else is left to wish-list evaluation.
func decide(offer platform.TradeOffer, masterID uint64) decision {
	if offer.PartnerID == masterID {
		return decisionAccept
	}
	weGiveNothing := len(offer.ItemsToGive) == 0
	weReceiveNothing := len(offer.ItemsToReceive) == 0
	switch {
	case weGiveNothing && !weReceiveNothing:
		return decisionAccept
	case !weGiveNothing && weReceiveNothing:
		return decisionDecline
	default:
		return decisionEvaluate
	}
}
