package upstream

import (
	"context"
	"net/url"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
)

const oddsBaseURL = "https://api.the-odds-api.com/v4"

// Odds fetches betting odds from The Odds API. Authentication is an
// apiKey query parameter on every request.
type Odds struct {
	fetcher
	baseURL string
	apiKey  string
}

// NewOdds creates an Odds API client. bus may be nil.
func NewOdds(apiKey string, bus *events.Bus) *Odds {
	return &Odds{
		fetcher: newFetcher("odds", bus),
		baseURL: oddsBaseURL,
		apiKey:  apiKey,
	}
}

// Configured reports whether an API key is set.
func (o *Odds) Configured() bool { return o.apiKey != "" }

// Sports fetches the list of in-season sport keys.
func (o *Odds) Sports(ctx context.Context) envelope.Envelope {
	q := url.Values{"apiKey": {o.apiKey}}
	return o.getJSON(ctx, o.baseURL+"/sports?"+q.Encode(), nil)
}

// Events fetches upcoming events for a sport key (e.g.
// "baseball_mlb", "americanfootball_ncaaf") without odds attached.
func (o *Odds) Events(ctx context.Context, sportKey string) envelope.Envelope {
	q := url.Values{"apiKey": {o.apiKey}}
	return o.getJSON(ctx,
		o.baseURL+"/sports/"+url.PathEscape(sportKey)+"/events?"+q.Encode(), nil)
}

// GameOdds fetches current odds for a sport key. regions is a comma
// list like "us"; markets like "h2h,spreads". Empty values fall back
// to "us" and "h2h".
func (o *Odds) GameOdds(ctx context.Context, sportKey, regions, markets string) envelope.Envelope {
	if regions == "" {
		regions = "us"
	}
	if markets == "" {
		markets = "h2h"
	}
	q := url.Values{
		"apiKey":  {o.apiKey},
		"regions": {regions},
		"markets": {markets},
	}
	return o.getJSON(ctx,
		o.baseURL+"/sports/"+url.PathEscape(sportKey)+"/odds?"+q.Encode(), nil)
}
