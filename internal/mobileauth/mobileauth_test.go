package mobileauth

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/steamfleet/farmhand/internal/platform"
)

func TestGenerateAuthCodeIsStableWithinBucket(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	t1 := time.Unix(1_700_000_000, 0)
	t2 := time.Unix(1_700_000_005, 0) // same 30s bucket

	c1, err := GenerateAuthCode(secret, t1)
	if err != nil {
		t.Fatalf("GenerateAuthCode: %v", err)
	}
	c2, err := GenerateAuthCode(secret, t2)
	if err != nil {
		t.Fatalf("GenerateAuthCode: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected stable code within a 30s bucket, got %q and %q", c1, c2)
	}
	if len(c1) != 5 {
		t.Fatalf("expected a 5-character code, got %q", c1)
	}
}

func TestGenerateAuthCodeChangesAcrossBuckets(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	c1, _ := GenerateAuthCode(secret, time.Unix(1_700_000_000, 0))
	c2, _ := GenerateAuthCode(secret, time.Unix(1_700_000_031, 0))
	if c1 == c2 {
		t.Fatal("expected code to change across a 30s bucket boundary")
	}
}

func TestGenerateAuthCodeRejectsUndecodableSecret(t *testing.T) {
	if _, err := GenerateAuthCode("not-valid-base64-or-32!!!", time.Now()); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}

// fakeWeb is a minimal platform.WebSession stub exercising only the
// confirmation methods Confirmations depends on.
type fakeWeb struct {
	platform.WebSession
	mu        sync.Mutex
	fetchCalls int
	confs     []platform.Confirmation
	accepted  []uint64
}

func (f *fakeWeb) FetchConfirmations(ctx context.Context, identitySecret, deviceID string) ([]platform.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.confs, nil
}

func (f *fakeWeb) HandleConfirmation(ctx context.Context, c platform.Confirmation, accept bool, identitySecret, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accept {
		f.accepted = append(f.accepted, c.ID)
	}
	return nil
}

func (f *fakeWeb) GetConfirmationDetails(ctx context.Context, c platform.Confirmation, identitySecret, deviceID string) (platform.Confirmation, error) {
	return c, nil
}

func TestAcceptMatchingByTypeOnlyAcceptsRequestedType(t *testing.T) {
	fw := &fakeWeb{confs: []platform.Confirmation{
		{ID: 1, Type: platform.ConfirmationTrade},
		{ID: 2, Type: platform.ConfirmationMarket},
		{ID: 3, Type: platform.ConfirmationTrade},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, fw, "identity", "device")

	n, err := c.AcceptMatching(ctx, ByType(platform.ConfirmationTrade))
	if err != nil {
		t.Fatalf("AcceptMatching: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 accepted, got %d", n)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.accepted) != 2 || fw.accepted[0] != 1 || fw.accepted[1] != 3 {
		t.Fatalf("unexpected accepted ids: %v", fw.accepted)
	}
}

func TestAcceptMatchingNilFilterAcceptsEveryType(t *testing.T) {
	fw := &fakeWeb{confs: []platform.Confirmation{
		{ID: 1, Type: platform.ConfirmationTrade},
		{ID: 2, Type: platform.ConfirmationMarket},
		{ID: 3, Type: platform.ConfirmationGeneric},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, fw, "identity", "device")

	n, err := c.AcceptMatching(ctx, nil)
	if err != nil {
		t.Fatalf("AcceptMatching: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected every confirmation accepted, got %d", n)
	}
}

func TestAcceptMatchingByTradeOfferIDsLeavesOthersPending(t *testing.T) {
	fw := &fakeWeb{confs: []platform.Confirmation{
		{ID: 1, CreatorID: 100, Type: platform.ConfirmationTrade},
		{ID: 2, CreatorID: 200, Type: platform.ConfirmationTrade},
		{ID: 3, CreatorID: 100, Type: platform.ConfirmationMarket},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, fw, "identity", "device")

	n, err := c.AcceptMatching(ctx, ByTradeOfferIDs(map[uint64]bool{100: true}))
	if err != nil {
		t.Fatalf("AcceptMatching: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 accepted, got %d", n)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.accepted) != 1 || fw.accepted[0] != 1 {
		t.Fatalf("expected only confirmation 1 accepted, got %v", fw.accepted)
	}
}

func TestAcceptMatchingByOtherPartyLeavesOthersPending(t *testing.T) {
	fw := &fakeWeb{confs: []platform.Confirmation{
		{ID: 1, CreatorID: 100, Type: platform.ConfirmationTrade},
		{ID: 2, CreatorID: 200, Type: platform.ConfirmationTrade},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, fw, "identity", "device")

	offers := []platform.TradeOffer{
		{ID: 100, PartnerID: 99},
		{ID: 200, PartnerID: 55},
	}
	n, err := c.AcceptMatching(ctx, ByOtherParty(99, offers))
	if err != nil {
		t.Fatalf("AcceptMatching: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 accepted, got %d", n)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.accepted) != 1 || fw.accepted[0] != 1 {
		t.Fatalf("expected only confirmation 1 accepted, got %v", fw.accepted)
	}
}

func TestConfirmationsSerializesConcurrentCalls(t *testing.T) {
	fw := &fakeWeb{confs: []platform.Confirmation{{ID: 9, Type: platform.ConfirmationTrade}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, fw, "identity", "device")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(ctx); err != nil {
				t.Errorf("Fetch: %v", err)
			}
		}()
	}
	wg.Wait()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.fetchCalls != 10 {
		t.Fatalf("expected 10 fetch calls to all complete, got %d", fw.fetchCalls)
	}
}

func TestConfirmationsRespectsContextCancellation(t *testing.T) {
	fw := &fakeWeb{}
	ctx, cancel := context.WithCancel(context.Background())
	c := New(ctx, fw, "identity", "device")
	cancel()

	// Give the worker goroutine a moment to observe cancellation.
	time.Sleep(10 * time.Millisecond)

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer doneCancel()
	if _, err := c.Fetch(doneCtx); err == nil {
		t.Fatal("expected Fetch to fail once the worker has stopped")
	}
}
