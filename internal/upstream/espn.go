package upstream

import (
	"context"
	"net/url"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
)

const espnBaseURL = "https://site.api.espn.com/apis/site/v2/sports"

// ESPN fetches scoreboards and team lists from ESPN's public site API.
// No authentication is required.
type ESPN struct {
	fetcher
	baseURL string
}

// NewESPN creates an ESPN client. bus may be nil.
func NewESPN(bus *events.Bus) *ESPN {
	return &ESPN{
		fetcher: newFetcher("espn", bus),
		baseURL: espnBaseURL,
	}
}

// Scoreboard fetches the current scoreboard for a sport/league pair,
// e.g. ("football", "college-football") or ("baseball", "mlb").
// dates optionally narrows to a YYYYMMDD date.
func (e *ESPN) Scoreboard(ctx context.Context, sport, league, dates string) envelope.Envelope {
	u := e.baseURL + "/" + url.PathEscape(sport) + "/" + url.PathEscape(league) + "/scoreboard"
	if dates != "" {
		u += "?dates=" + url.QueryEscape(dates)
	}
	return e.getJSON(ctx, u, nil)
}

// Teams fetches the team list for a sport/league pair.
func (e *ESPN) Teams(ctx context.Context, sport, league string) envelope.Envelope {
	u := e.baseURL + "/" + url.PathEscape(sport) + "/" + url.PathEscape(league) + "/teams"
	return e.getJSON(ctx, u, nil)
}

// News fetches league headlines for a sport/league pair.
func (e *ESPN) News(ctx context.Context, sport, league string) envelope.Envelope {
	u := e.baseURL + "/" + url.PathEscape(sport) + "/" + url.PathEscape(league) + "/news"
	return e.getJSON(ctx, u, nil)
}
