package bot

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/steamfleet/farmhand/internal/platform"
	"github.com/steamfleet/farmhand/internal/store"
)

// keyPattern is the "possibly valid" activation-key shape: three to five
// dash-separated 4-5 character groups.
var keyPattern = regexp.MustCompile(`^[0-9A-Z]{4,5}-[0-9A-Z]{4,5}-[0-9A-Z]{4,5}(?:-[0-9A-Z]{4,5}(?:-[0-9A-Z]{4,5})?)?$`)

// redeemTimeout bounds a single redeemKey call; exceeding it is reported
// as "Timeout!" rather than any purchase-result status.
const redeemTimeout = 30 * time.Second

// retryableStatuses are the purchase results worth trying again on a
// different account, per the forwardKeysToOtherBots rule.
var retryableStatuses = map[platform.PurchaseResultDetail]bool{
	platform.PurchaseAlreadyOwned:      true,
	platform.PurchaseBaseGameRequired:  true,
	platform.PurchaseOnCooldown:        true,
	platform.PurchaseRegionLocked:      true,
}

// runRedeemPipeline implements the !redeem command and the bare-message
// key-list shorthand: split the input into candidate keys, redeem each
// against this bot (or, under distributeKeys, a round-robined sibling),
// forwarding retryable failures to other bots when configured, and report
// one line per attempt.
func (b *Bot) runRedeemPipeline(ctx context.Context, text string) string {
	keys := splitKeys(text)
	if len(keys) == 0 {
		return ""
	}

	bots := []*Bot{b}
	if b.fleet != nil {
		if all := b.fleet.All(); len(all) > 0 {
			bots = all
		}
	}

	var lines []string
	distributeIdx := 0
	for _, key := range keys {
		attemptBot := b
		if b.cfg.DistributeKeys {
			attemptBot = bots[distributeIdx%len(bots)]
			distributeIdx++
		}

		line, status, ok := attemptBot.redeemOne(ctx, key)
		lines = append(lines, line)

		if ok && b.cfg.ForwardKeysToOtherBots && retryableStatuses[status] {
			for _, other := range bots {
				if other == attemptBot {
					continue
				}
				oline, ostatus, ook := other.redeemOne(ctx, key)
				lines = append(lines, oline)
				if ook && !retryableStatuses[ostatus] {
					break
				}
			}
		}
	}

	return "\n" + strings.Join(lines, "\n")
}

// splitKeys normalizes a !redeem payload into a list of "possibly valid"
// keys, discarding anything that does not match keyPattern.
func splitKeys(text string) []string {
	normalized := strings.ReplaceAll(text, ",", "\n")
	var keys []string
	for _, line := range strings.Split(normalized, "\n") {
		key := strings.ToUpper(strings.TrimSpace(line))
		if key == "" {
			continue
		}
		if keyPattern.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// redeemOne redeems a single key against this bot, returning the report
// line and, when ok is true, the purchase-result status the call reported
// (so the caller can decide whether to forward it elsewhere).
func (b *Bot) redeemOne(ctx context.Context, key string) (line string, status platform.PurchaseResultDetail, ok bool) {
	callCtx, cancel := context.WithTimeout(ctx, redeemTimeout)
	defer cancel()

	result, err := b.client.RedeemKey(callCtx, key)
	if err != nil {
		b.ledger.Record(store.LedgerEntry{BotName: b.Name, Type: store.EventKeyRedeem, Detail: key + " Timeout!"})
		return fmt.Sprintf("%s Key: %s | Status: Timeout!", b.Name, key), platform.PurchaseNoDetail, false
	}

	statusName := purchaseStatusName(result.PurchaseResult)
	b.ledger.Record(store.LedgerEntry{BotName: b.Name, Type: store.EventKeyRedeem, Detail: key + " " + statusName})
	return fmt.Sprintf("%s Key: %s | Status: %s | Items: %s", b.Name, key, statusName, formatItems(result.Items)), result.PurchaseResult, true
}

func purchaseStatusName(d platform.PurchaseResultDetail) string {
	switch d {
	case platform.PurchaseOK:
		return "OK"
	case platform.PurchaseDuplicatedKey:
		return "DuplicatedKey"
	case platform.PurchaseInvalidKey:
		return "InvalidKey"
	case platform.PurchaseAlreadyOwned:
		return "AlreadyOwned"
	case platform.PurchaseBaseGameRequired:
		return "BaseGameRequired"
	case platform.PurchaseOnCooldown:
		return "OnCooldown"
	case platform.PurchaseRegionLocked:
		return "RegionLocked"
	default:
		return "Unknown"
	}
}

func formatItems(items map[uint32]string) string {
	if len(items) == 0 {
		return "-"
	}
	ids := make([]uint32, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d:%s", id, items[id]))
	}
	return strings.Join(parts, ", ")
}
