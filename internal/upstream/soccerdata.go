package upstream

import (
	"context"
	"net/url"
	"strconv"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
)

const soccerDataBaseURL = "https://api.soccerdataapi.com"

// SoccerData fetches soccer fixtures and live scores from
// SoccerDataAPI. Authentication is an auth_token query parameter.
type SoccerData struct {
	fetcher
	baseURL string
	authKey string
}

// NewSoccerData creates a SoccerDataAPI client. bus may be nil.
func NewSoccerData(authKey string, bus *events.Bus) *SoccerData {
	return &SoccerData{
		fetcher: newFetcher("soccerdata", bus),
		baseURL: soccerDataBaseURL,
		authKey: authKey,
	}
}

// Configured reports whether an auth token is set.
func (s *SoccerData) Configured() bool { return s.authKey != "" }

// Livescores fetches all currently live matches.
func (s *SoccerData) Livescores(ctx context.Context) envelope.Envelope {
	q := url.Values{"auth_token": {s.authKey}}
	return s.getJSON(ctx, s.baseURL+"/livescores/?"+q.Encode(), nil)
}

// Matches fetches matches for a league by SoccerDataAPI league ID.
func (s *SoccerData) Matches(ctx context.Context, leagueID int) envelope.Envelope {
	q := url.Values{
		"auth_token": {s.authKey},
		"league_id":  {strconv.Itoa(leagueID)},
	}
	return s.getJSON(ctx, s.baseURL+"/matches/?"+q.Encode(), nil)
}

// Standings fetches the league table by SoccerDataAPI league ID.
func (s *SoccerData) Standings(ctx context.Context, leagueID int) envelope.Envelope {
	q := url.Values{
		"auth_token": {s.authKey},
		"league_id":  {strconv.Itoa(leagueID)},
	}
	return s.getJSON(ctx, s.baseURL+"/standing/?"+q.Encode(), nil)
}
