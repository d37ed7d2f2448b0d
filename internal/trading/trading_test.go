package trading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/steamfleet/farmhand/internal/mobileauth"
	"github.com/steamfleet/farmhand/internal/platform"
)

// fakeWeb stubs the platform.WebSession methods Trading exercises.
type fakeWeb struct {
	platform.WebSession

	mu sync.Mutex

	offers []platform.TradeOffer

	accepted []uint64
	declined []uint64
	acceptOK bool

	inventory    []platform.Item
	sentOffers   []sentOffer
	nextOfferID  uint64

	confs    []platform.Confirmation
	confOK   []uint64
}

type sentOffer struct {
	items     []platform.Item
	recipient uint64
	token     string
}

func (f *fakeWeb) GetIncomingTradeOffers(ctx context.Context) ([]platform.TradeOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers, nil
}

func (f *fakeWeb) AcceptTradeOffer(ctx context.Context, offerID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, offerID)
	return f.acceptOK, nil
}

func (f *fakeWeb) DeclineTradeOffer(ctx context.Context, offerID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, offerID)
	return nil
}

func (f *fakeWeb) GetMyInventory(ctx context.Context, tradableOnly bool) ([]platform.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inventory, nil
}

func (f *fakeWeb) SendTradeOffer(ctx context.Context, items []platform.Item, recipient uint64, token string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentOffers = append(f.sentOffers, sentOffer{items: items, recipient: recipient, token: token})
	return f.nextOfferID, nil
}

func (f *fakeWeb) FetchConfirmations(ctx context.Context, identitySecret, deviceID string) ([]platform.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confs, nil
}

func (f *fakeWeb) GetConfirmationDetails(ctx context.Context, c platform.Confirmation, identitySecret, deviceID string) (platform.Confirmation, error) {
	return c, nil
}

func (f *fakeWeb) HandleConfirmation(ctx context.Context, c platform.Confirmation, accept bool, identitySecret, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accept {
		f.confOK = append(f.confOK, c.ID)
	}
	return nil
}

func newConfirms(t *testing.T, web platform.WebSession) *mobileauth.Confirmations {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return mobileauth.New(ctx, web, "identity", "device")
}

func TestCheckTradesAcceptsMasterOfferOutright(t *testing.T) {
	web := &fakeWeb{
		offers: []platform.TradeOffer{
			{ID: 1, PartnerID: 99, ItemsToGive: []platform.Item{{AssetID: 1}}},
		},
		acceptOK: true,
	}
	tr := New(web, nil, Config{MasterID: 99}, nil)

	if err := tr.CheckTrades(context.Background()); err != nil {
		t.Fatalf("CheckTrades: %v", err)
	}
	if len(web.accepted) != 1 || web.accepted[0] != 1 {
		t.Fatalf("expected offer 1 accepted, got %v", web.accepted)
	}
}

func TestCheckTradesAcceptsDonationAndDeclinesOneSided(t *testing.T) {
	web := &fakeWeb{
		offers: []platform.TradeOffer{
			{ID: 10, PartnerID: 1, ItemsToReceive: []platform.Item{{AssetID: 1}}}, // donation to us
			{ID: 11, PartnerID: 1, ItemsToGive: []platform.Item{{AssetID: 2}}},    // we give, get nothing
		},
		acceptOK: true,
	}
	tr := New(web, nil, Config{MasterID: 99}, nil)

	if err := tr.CheckTrades(context.Background()); err != nil {
		t.Fatalf("CheckTrades: %v", err)
	}
	if len(web.accepted) != 1 || web.accepted[0] != 10 {
		t.Fatalf("expected donation offer 10 accepted, got %v", web.accepted)
	}
	if len(web.declined) != 1 || web.declined[0] != 11 {
		t.Fatalf("expected one-sided offer 11 declined, got %v", web.declined)
	}
}

func TestCheckTradesEvaluatesAgainstWishList(t *testing.T) {
	web := &fakeWeb{
		offers: []platform.TradeOffer{
			{
				ID:             20,
				PartnerID:      1,
				ItemsToGive:    []platform.Item{{AssetID: 1}},
				ItemsToReceive: []platform.Item{{AssetID: 2, Tags: []string{"steamTradingType:CardsExchange"}}},
			},
			{
				ID:             21,
				PartnerID:      1,
				ItemsToGive:    []platform.Item{{AssetID: 3}},
				ItemsToReceive: []platform.Item{{AssetID: 4, Tags: []string{"steamTradingType:Emoticon"}}},
			},
		},
		acceptOK: true,
	}
	tr := New(web, nil, Config{
		MasterID: 99,
		WishList: NewWishList([]string{"steamTradingType:CardsExchange"}),
	}, nil)

	if err := tr.CheckTrades(context.Background()); err != nil {
		t.Fatalf("CheckTrades: %v", err)
	}
	if len(web.accepted) != 1 || web.accepted[0] != 20 {
		t.Fatalf("expected only offer 20 accepted by wish-list match, got %v", web.accepted)
	}
	if len(web.declined) != 1 || web.declined[0] != 21 {
		t.Fatalf("expected offer 21 declined for not matching wish-list, got %v", web.declined)
	}
}

func TestCheckTradesAcceptsOnlyTheMatchingConfirmation(t *testing.T) {
	web := &fakeWeb{
		offers: []platform.TradeOffer{
			{ID: 30, PartnerID: 99, ConfirmationNeeded: true},
		},
		acceptOK: false, // accept is staged pending mobile confirmation
		confs: []platform.Confirmation{
			{ID: 1, CreatorID: 30, Type: platform.ConfirmationTrade},
			{ID: 2, CreatorID: 31, Type: platform.ConfirmationTrade}, // unrelated offer, must stay untouched
		},
	}
	confirms := newConfirms(t, web)
	tr := New(web, confirms, Config{MasterID: 99}, nil)

	if err := tr.CheckTrades(context.Background()); err != nil {
		t.Fatalf("CheckTrades: %v", err)
	}
	if len(web.confOK) != 1 || web.confOK[0] != 1 {
		t.Fatalf("expected only confirmation 1 accepted, got %v", web.confOK)
	}
}

func TestSendLootSkipsWhenInventoryEmpty(t *testing.T) {
	web := &fakeWeb{}
	tr := New(web, nil, Config{MasterID: 99}, nil)

	if err := tr.SendLoot(context.Background()); err != nil {
		t.Fatalf("SendLoot: %v", err)
	}
	if len(web.sentOffers) != 0 {
		t.Fatalf("expected no offer sent for empty inventory, got %v", web.sentOffers)
	}
}

func TestSendLootSendsOneOfferAndClearsConfirmation(t *testing.T) {
	web := &fakeWeb{
		inventory:   []platform.Item{{AssetID: 1}, {AssetID: 2}},
		nextOfferID: 77,
		confs: []platform.Confirmation{
			{ID: 5, CreatorID: 77, Type: platform.ConfirmationTrade},
		},
	}
	confirms := newConfirms(t, web)
	tr := New(web, confirms, Config{MasterID: 99, TradeToken: "tok", SettleDelay: time.Millisecond}, nil)

	if err := tr.SendLoot(context.Background()); err != nil {
		t.Fatalf("SendLoot: %v", err)
	}
	if len(web.sentOffers) != 1 || web.sentOffers[0].recipient != 99 || web.sentOffers[0].token != "tok" {
		t.Fatalf("unexpected sent offers: %v", web.sentOffers)
	}
	if len(web.confOK) != 1 || web.confOK[0] != 5 {
		t.Fatalf("expected the loot offer's confirmation to be accepted, got %v", web.confOK)
	}
}

func TestSendLootIsSerializedAgainstConcurrentCalls(t *testing.T) {
	web := &fakeWeb{inventory: []platform.Item{{AssetID: 1}}, nextOfferID: 1}
	tr := New(web, nil, Config{MasterID: 99}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.SendLoot(context.Background())
		}()
	}
	wg.Wait()

	web.mu.Lock()
	defer web.mu.Unlock()
	if len(web.sentOffers) == 0 {
		t.Fatal("expected at least one offer sent")
	}
}
