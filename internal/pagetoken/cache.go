package pagetoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// ErrTokenMissing means the platform answered the exchange without a token.
var ErrTokenMissing = errors.New("fb_page_token_missing")

// TokenTTL bounds page-token staleness. The backing token is long-lived, so
// the cache is a performance optimization, not a security boundary.
const TokenTTL = 6 * time.Hour

// Source resolves a per-page access token. Injected as a dependency so a
// shared-cache backend can replace the process-local one without touching
// call sites.
type Source interface {
	PageToken(ctx context.Context, pageID string) (string, error)
}

// GraphSource exchanges the system user token for page tokens against the
// platform's graph endpoint and caches results per pageID. The cache is
// process-local; staleness across instances is accepted.
type GraphSource struct {
	systemToken string
	graphBase   string
	client      *resty.Client
	cache       *gocache.Cache
}

func NewGraphSource(systemToken, graphBase string, client *resty.Client) *GraphSource {
	return &GraphSource{
		systemToken: systemToken,
		graphBase:   graphBase,
		client:      client,
		cache:       gocache.New(TokenTTL, 30*time.Minute),
	}
}

// PageToken returns a cached token when fresh, otherwise performs the
// exchange. Failures are never cached, so every call retries the exchange.
func (s *GraphSource) PageToken(ctx context.Context, pageID string) (string, error) {
	if cached, found := s.cache.Get(pageID); found {
		return cached.(string), nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "access_token").
		SetQueryParam("access_token", s.systemToken).
		Get(fmt.Sprintf("%s/%s", s.graphBase, pageID))
	if err != nil {
		return "", fmt.Errorf("page token exchange request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("page token exchange failed: %d %s", resp.StatusCode(), resp.String())
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("page token exchange response did not parse: %w", err)
	}

	token := strings.TrimSpace(parsed.AccessToken)
	if token == "" {
		return "", ErrTokenMissing
	}

	s.cache.Set(pageID, token, gocache.DefaultExpiration)
	log.Debug().Str("pageID", pageID).Msg("Page access token refreshed")
	return token, nil
}
