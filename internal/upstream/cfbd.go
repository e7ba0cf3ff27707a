package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
)

const cfbdBaseURL = "https://api.collegefootballdata.com"

// CFBD fetches college football data from the CollegeFootballData API.
// Authentication is a bearer API key on every request.
type CFBD struct {
	fetcher
	baseURL string
	apiKey  string
}

// NewCFBD creates a CollegeFootballData client. bus may be nil.
func NewCFBD(apiKey string, bus *events.Bus) *CFBD {
	return &CFBD{
		fetcher: newFetcher("cfbd", bus),
		baseURL: cfbdBaseURL,
		apiKey:  apiKey,
	}
}

// Configured reports whether an API key is set.
func (c *CFBD) Configured() bool { return c.apiKey != "" }

func (c *CFBD) header() http.Header {
	return http.Header{"Authorization": {"Bearer " + c.apiKey}}
}

// Games fetches games for a season year, optionally narrowed to a week
// (zero means all weeks).
func (c *CFBD) Games(ctx context.Context, year, week int) envelope.Envelope {
	q := url.Values{"year": {strconv.Itoa(year)}}
	if week > 0 {
		q.Set("week", strconv.Itoa(week))
	}
	return c.getJSON(ctx, c.baseURL+"/games?"+q.Encode(), c.header())
}

// Rankings fetches poll rankings for a season year, optionally for a
// single week.
func (c *CFBD) Rankings(ctx context.Context, year, week int) envelope.Envelope {
	q := url.Values{"year": {strconv.Itoa(year)}}
	if week > 0 {
		q.Set("week", strconv.Itoa(week))
	}
	return c.getJSON(ctx, c.baseURL+"/rankings?"+q.Encode(), c.header())
}

// Lines fetches betting lines for a season year, optionally filtered
// by team name.
func (c *CFBD) Lines(ctx context.Context, year int, team string) envelope.Envelope {
	q := url.Values{"year": {strconv.Itoa(year)}}
	if team != "" {
		q.Set("team", team)
	}
	return c.getJSON(ctx, c.baseURL+"/lines?"+q.Encode(), c.header())
}
