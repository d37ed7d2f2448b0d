package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// Item is a single inventory entry relevant to Trading: cards, foil
// cards, and booster packs are all represented this way, kept minimal to
// what the wish-list/donation policy needs.
type Item struct {
	AssetID   uint64
	AppID     uint32
	ContextID uint32
	Amount    uint32
	// Tags holds the steamTradingType-category tags used for card-set
	// wish-list matching.
	Tags []string
}

// BadgeEntry is one row parsed from a badge page: a game with unearned
// card drops.
type BadgeEntry struct {
	AppID       uint32
	HoursPlayed float64
}

// CardStatus is the parsed result of a game's card page.
type CardStatus struct {
	CardsRemaining int
}

// ConfirmationType classifies a pending confirmation. Confirmations are
// transient: fetched per call, never persisted.
type ConfirmationType int

const (
	ConfirmationGeneric ConfirmationType = iota + 1
	ConfirmationTrade
	ConfirmationMarket
	ConfirmationOther
)

type Confirmation struct {
	ID        uint64
	Nonce     uint64
	CreatorID uint64
	Type      ConfirmationType
}

// WebSession is the web-session half of the Platform Client shim.
type WebSession interface {
	Init(ctx context.Context, steamID uint64, universe uint32, nonce string, parentalPIN string) (bool, error)

	GetBadgePage(ctx context.Context, page int) ([]BadgeEntry, int, error)
	GetGameCardsPage(ctx context.Context, appID uint32) (CardStatus, error)
	GetMyInventory(ctx context.Context, tradableOnly bool) ([]Item, error)
	SendTradeOffer(ctx context.Context, items []Item, recipient uint64, token string) (uint64, error)
	GetIncomingTradeOffers(ctx context.Context) ([]TradeOffer, error)
	AcceptTradeOffer(ctx context.Context, offerID uint64) (bool, error)
	DeclineTradeOffer(ctx context.Context, offerID uint64) error
	AcceptGift(ctx context.Context, giftID uint64) (bool, error)
	MarkInventory(ctx context.Context) error
	JoinGroup(ctx context.Context, clanID uint64) (bool, error)
	GetOwnedGames(ctx context.Context) (map[uint32]string, error)

	FetchConfirmations(ctx context.Context, identitySecret string, deviceID string) ([]Confirmation, error)
	GetConfirmationDetails(ctx context.Context, c Confirmation, identitySecret string, deviceID string) (Confirmation, error)
	HandleConfirmation(ctx context.Context, c Confirmation, accept bool, identitySecret string, deviceID string) error
}

// retryHTTPClient is the shim's shared HTTP client: a configured
// connection timeout and a small bounded retry count with immediate
// retries. Requests are additionally paced with golang.org/x/time/rate
// to avoid hammering the web session under concurrent badge-page
// fan-out.
type retryHTTPClient struct {
	http    *http.Client
	limiter *rate.Limiter
	retries int
}

func newRetryHTTPClient(timeout time.Duration) *retryHTTPClient {
	return &retryHTTPClient{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		retries: 5,
	}
}

func (c *retryHTTPClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, NewError(ErrTransport, "rate-limit wait", err)
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusFound {
				resp.Body.Close()
				return nil, NewError(ErrWebSessionExpired, req.URL.Path, fmt.Errorf("status %d", resp.StatusCode))
			}
			return resp, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, NewError(ErrTransport, req.URL.Path, ctx.Err())
		default:
		}
	}
	return nil, NewError(ErrTransport, req.URL.Path, fmt.Errorf("exhausted %d retries: %w", c.retries, lastErr))
}

func (c *retryHTTPClient) getHTML(ctx context.Context, rawURL string) (*html.Node, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, NewError(ErrParse, rawURL, err)
	}
	return doc, nil
}

func (c *retryHTTPClient) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(ErrParse, rawURL, err)
	}
	return nil
}

func (c *retryHTTPClient) postForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rawURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req)
}

// httpWebSession is the concrete WebSession backed by the retrying HTTP
// client, doing its own HTML and JSON parsing against the Platform's web
// endpoints.
type httpWebSession struct {
	client  *retryHTTPClient
	baseURL string // overridable in tests
	cookies string
}

func newHTTPWebSession(baseURL string) *httpWebSession {
	return &httpWebSession{
		client:  newRetryHTTPClient(30 * time.Second),
		baseURL: baseURL,
	}
}

func (w *httpWebSession) Init(ctx context.Context, steamID uint64, universe uint32, nonce string, parentalPIN string) (bool, error) {
	form := url.Values{
		"steamid":    {strconv.FormatUint(steamID, 10)},
		"nonce":      {nonce},
		"sessionkey": {fmt.Sprintf("u%d", universe)},
	}
	if parentalPIN != "" {
		form.Set("pin", parentalPIN)
	}
	resp, err := w.client.postForm(ctx, w.baseURL+"/login/dologin", form)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	w.cookies = resp.Header.Get("Set-Cookie")
	return resp.StatusCode == http.StatusOK, nil
}

// cardsRemainingPattern and pageCountPattern parse the two HTML pages
// Cards Farmer discovery depends on. A real badge page has far richer
// markup; here we extract exactly the two data points the scheduler
// needs.
var (
	cardsRemainingPattern = regexp.MustCompile(`(\d+)\s+card\s+drops? remaining`)
	pageCountPattern      = regexp.MustCompile(`[?&]p=(\d+)`)
)

func (w *httpWebSession) GetBadgePage(ctx context.Context, page int) ([]BadgeEntry, int, error) {
	doc, err := w.client.getHTML(ctx, fmt.Sprintf("%s/my/badges?p=%d", w.baseURL, page))
	if err != nil {
		return nil, 0, err
	}

	var entries []BadgeEntry
	maxPage := page

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "div":
				if class, ok := attr(n, "class"); ok && strings.Contains(class, "badge_row") {
					if entry, ok := parseBadgeRow(n); ok {
						entries = append(entries, entry)
					}
				}
			case "a":
				if href, ok := attr(n, "href"); ok {
					if m := pageCountPattern.FindStringSubmatch(href); m != nil {
						if n, err := strconv.Atoi(m[1]); err == nil && n > maxPage {
							maxPage = n
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return entries, maxPage, nil
}

func parseBadgeRow(row *html.Node) (BadgeEntry, bool) {
	appIDStr, ok := attr(row, "data-appid")
	if !ok {
		return BadgeEntry{}, false
	}
	appID, err := strconv.ParseUint(appIDStr, 10, 32)
	if err != nil {
		return BadgeEntry{}, false
	}

	hoursStr, _ := attr(row, "data-hours")
	hours, _ := strconv.ParseFloat(hoursStr, 64)

	if playToEarn, ok := attr(row, "data-play-to-earn"); !ok || playToEarn != "1" {
		return BadgeEntry{}, false
	}

	return BadgeEntry{AppID: uint32(appID), HoursPlayed: hours}, true
}

func (w *httpWebSession) GetGameCardsPage(ctx context.Context, appID uint32) (CardStatus, error) {
	doc, err := w.client.getHTML(ctx, fmt.Sprintf("%s/my/gamecards/%d", w.baseURL, appID))
	if err != nil {
		return CardStatus{}, err
	}

	var text strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if m := cardsRemainingPattern.FindStringSubmatch(text.String()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return CardStatus{CardsRemaining: n}, nil
	}
	return CardStatus{CardsRemaining: 0}, nil
}

func (w *httpWebSession) GetMyInventory(ctx context.Context, tradableOnly bool) ([]Item, error) {
	var payload struct {
		Assets []struct {
			AssetID   string   `json:"assetid"`
			AppID     uint32   `json:"appid"`
			ContextID uint32   `json:"contextid"`
			Amount    uint32   `json:"amount"`
			Tradable  bool     `json:"tradable"`
			Tags      []string `json:"tags"`
		} `json:"assets"`
	}
	if err := w.client.getJSON(ctx, w.baseURL+"/inventory/json", &payload); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(payload.Assets))
	for _, a := range payload.Assets {
		if tradableOnly && !a.Tradable {
			continue
		}
		assetID, _ := strconv.ParseUint(a.AssetID, 10, 64)
		items = append(items, Item{
			AssetID:   assetID,
			AppID:     a.AppID,
			ContextID: a.ContextID,
			Amount:    a.Amount,
			Tags:      a.Tags,
		})
	}
	return items, nil
}

func (w *httpWebSession) SendTradeOffer(ctx context.Context, items []Item, recipient uint64, token string) (uint64, error) {
	form := url.Values{"partner": {strconv.FormatUint(recipient, 10)}}
	if token != "" {
		form.Set("trade_offer_access_token", token)
	}
	resp, err := w.client.postForm(ctx, w.baseURL+"/tradeoffer/new/send", form)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload struct {
		TradeOfferID string `json:"tradeofferid"`
	}
	if err := decodeJSONBody(resp, &payload); err != nil {
		return 0, NewError(ErrParse, "SendTradeOffer", err)
	}
	id, _ := strconv.ParseUint(payload.TradeOfferID, 10, 64)
	return id, nil
}

// TradeOffer is one active incoming trade offer.
type TradeOffer struct {
	ID                 uint64
	PartnerID          uint64
	ItemsToGive        []Item
	ItemsToReceive     []Item
	ConfirmationNeeded bool
}

func (w *httpWebSession) GetIncomingTradeOffers(ctx context.Context) ([]TradeOffer, error) {
	var payload struct {
		Response struct {
			TradeOffersReceived []struct {
				TradeOfferID       string `json:"tradeofferid"`
				AccountIDOther     uint64 `json:"accountid_other"`
				ItemsToGive        []struct {
					AssetID   string `json:"assetid"`
					AppID     uint32 `json:"appid"`
					ContextID uint32 `json:"contextid"`
					Amount    uint32 `json:"amount"`
				} `json:"items_to_give"`
				ItemsToReceive []struct {
					AssetID   string `json:"assetid"`
					AppID     uint32 `json:"appid"`
					ContextID uint32 `json:"contextid"`
					Amount    uint32 `json:"amount"`
				} `json:"items_to_receive"`
				ConfirmationMethod int `json:"confirmation_method"`
			} `json:"trade_offers_received"`
		} `json:"response"`
	}
	if err := w.client.getJSON(ctx, w.baseURL+"/IEconService/GetTradeOffers", &payload); err != nil {
		return nil, err
	}

	offers := make([]TradeOffer, 0, len(payload.Response.TradeOffersReceived))
	for _, o := range payload.Response.TradeOffersReceived {
		id, _ := strconv.ParseUint(o.TradeOfferID, 10, 64)
		offer := TradeOffer{
			ID:                 id,
			PartnerID:          o.AccountIDOther,
			ConfirmationNeeded: o.ConfirmationMethod != 0,
		}
		for _, it := range o.ItemsToGive {
			assetID, _ := strconv.ParseUint(it.AssetID, 10, 64)
			offer.ItemsToGive = append(offer.ItemsToGive, Item{AssetID: assetID, AppID: it.AppID, ContextID: it.ContextID, Amount: it.Amount})
		}
		for _, it := range o.ItemsToReceive {
			assetID, _ := strconv.ParseUint(it.AssetID, 10, 64)
			offer.ItemsToReceive = append(offer.ItemsToReceive, Item{AssetID: assetID, AppID: it.AppID, ContextID: it.ContextID, Amount: it.Amount})
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (w *httpWebSession) AcceptTradeOffer(ctx context.Context, offerID uint64) (bool, error) {
	form := url.Values{"tradeofferid": {strconv.FormatUint(offerID, 10)}}
	resp, err := w.client.postForm(ctx, fmt.Sprintf("%s/tradeoffer/%d/accept", w.baseURL, offerID), form)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var payload struct {
		Accepted            bool `json:"accepted"`
		NeedsMobileConfirmation bool `json:"needs_mobile_confirmation"`
	}
	if err := decodeJSONBody(resp, &payload); err != nil {
		return false, NewError(ErrParse, "AcceptTradeOffer", err)
	}
	return payload.Accepted, nil
}

func (w *httpWebSession) DeclineTradeOffer(ctx context.Context, offerID uint64) error {
	form := url.Values{"tradeofferid": {strconv.FormatUint(offerID, 10)}}
	resp, err := w.client.postForm(ctx, fmt.Sprintf("%s/tradeoffer/%d/decline", w.baseURL, offerID), form)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (w *httpWebSession) AcceptGift(ctx context.Context, giftID uint64) (bool, error) {
	form := url.Values{"giftid": {strconv.FormatUint(giftID, 10)}}
	resp, err := w.client.postForm(ctx, w.baseURL+"/gifts/accept", form)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (w *httpWebSession) MarkInventory(ctx context.Context) error {
	resp, err := w.client.postForm(ctx, w.baseURL+"/inventory/markviewed", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (w *httpWebSession) JoinGroup(ctx context.Context, clanID uint64) (bool, error) {
	form := url.Values{"clanid": {strconv.FormatUint(clanID, 10)}}
	resp, err := w.client.postForm(ctx, w.baseURL+"/my/groups/ajoinleave", form)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (w *httpWebSession) GetOwnedGames(ctx context.Context) (map[uint32]string, error) {
	var payload struct {
		Games []struct {
			AppID uint32 `json:"appid"`
			Name  string `json:"name"`
		} `json:"games"`
	}
	if err := w.client.getJSON(ctx, w.baseURL+"/IPlayerService/GetOwnedGames", &payload); err != nil {
		return nil, err
	}
	games := make(map[uint32]string, len(payload.Games))
	for _, g := range payload.Games {
		games[g.AppID] = g.Name
	}
	return games, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
