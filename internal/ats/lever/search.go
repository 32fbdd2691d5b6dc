// File: internal/ats/lever/search.go
package lever

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/fields"
	"github.com/xkilldash9x/autoapply/internal/network"
	"github.com/xkilldash9x/autoapply/internal/tabstate"
)

// DefaultSearchURL is Lever's location autocomplete endpoint.
const DefaultSearchURL = "https://jobs.lever.co/searchLocations"

// Searcher looks up canonical location names through Lever's autocomplete
// API. Every request carries an hCaptcha token from the channel. Results
// are cached per query in tab state.
type Searcher struct {
	channel channel.Channel
	state   *tabstate.Store
	client  *network.JSONClient
	logger  *zap.Logger
}

var _ fields.LocationSearcher = (*Searcher)(nil)

// NewSearcher builds a searcher against searchURL, or DefaultSearchURL when
// empty.
func NewSearcher(ch channel.Channel, searchURL string, logger *zap.Logger, opts ...network.JSONClientOption) (*Searcher, error) {
	if ch == nil {
		return nil, errors.New("lever location search requires a channel")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	opts = append([]network.JSONClientOption{network.WithRetries(1)}, opts...)
	client, err := network.NewJSONClient(searchURL, logger, opts...)
	if err != nil {
		return nil, err
	}
	return &Searcher{
		channel: ch,
		state:   ch.TabState(),
		client:  client,
		logger:  logger.Named("location_search"),
	}, nil
}

type location struct {
	Name string `json:"name"`
}

// SearchLocations implements fields.LocationSearcher. A failed lookup
// yields no candidates along with the error.
func (s *Searcher) SearchLocations(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if cached, ok := s.state.LocationQueries(query); ok {
		return cached, nil
	}
	token, err := s.channel.LeverLocationToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("hcaptcha token: %w", err)
	}
	var found []location
	q := url.Values{"text": {query}, "hcaptchaResponse": {token}}
	if err := s.client.Do(ctx, http.MethodGet, "", q, nil, &found); err != nil {
		return nil, fmt.Errorf("search locations for %q: %w", query, err)
	}
	names := make([]string, 0, len(found))
	for _, l := range found {
		if n := strings.TrimSpace(l.Name); n != "" {
			names = append(names, n)
		}
	}
	s.state.CacheLocationQuery(query, names)
	s.logger.Debug("Location search.", zap.String("query", query), zap.Int("results", len(names)))
	return names, nil
}
