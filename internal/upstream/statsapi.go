package upstream

import (
	"context"
	"net/url"
	"strconv"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
)

const statsAPIBaseURL = "https://statsapi.mlb.com/api/v1"

// sportIDMLB is the StatsAPI sport identifier for Major League Baseball.
const sportIDMLB = 1

// StatsAPI fetches MLB data from the public MLB StatsAPI. No
// authentication is required.
type StatsAPI struct {
	fetcher
	baseURL string
}

// NewStatsAPI creates an MLB StatsAPI client. bus may be nil.
func NewStatsAPI(bus *events.Bus) *StatsAPI {
	return &StatsAPI{
		fetcher: newFetcher("statsapi", bus),
		baseURL: statsAPIBaseURL,
	}
}

// Teams fetches all MLB teams for a season (e.g. 2025). A zero season
// returns the current season's teams.
func (s *StatsAPI) Teams(ctx context.Context, season int) envelope.Envelope {
	q := url.Values{"sportId": {strconv.Itoa(sportIDMLB)}}
	if season > 0 {
		q.Set("season", strconv.Itoa(season))
	}
	return s.getJSON(ctx, s.baseURL+"/teams?"+q.Encode(), nil)
}

// Schedule fetches the MLB schedule for a date in YYYY-MM-DD form.
// An empty date returns today's schedule.
func (s *StatsAPI) Schedule(ctx context.Context, date string) envelope.Envelope {
	q := url.Values{"sportId": {strconv.Itoa(sportIDMLB)}}
	if date != "" {
		q.Set("date", date)
	}
	return s.getJSON(ctx, s.baseURL+"/schedule?"+q.Encode(), nil)
}

// Standings fetches league standings for a season. leagueID is 103
// (AL) or 104 (NL).
func (s *StatsAPI) Standings(ctx context.Context, leagueID, season int) envelope.Envelope {
	q := url.Values{"leagueId": {strconv.Itoa(leagueID)}}
	if season > 0 {
		q.Set("season", strconv.Itoa(season))
	}
	return s.getJSON(ctx, s.baseURL+"/standings?"+q.Encode(), nil)
}
