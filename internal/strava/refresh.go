package strava

import (
	"context"
	"fmt"
	"time"

	"strava-duel/internal/logging"
	"strava-duel/internal/metrics"
	"strava-duel/internal/store"
)

// DefaultRefreshMargin is how long before expiry a token is treated as stale.
const DefaultRefreshMargin = 5 * time.Minute

// TokenExchanger trades a refresh token for a new token triple.
type TokenExchanger interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// TokenRefresher hands out valid access tokens, rotating stored credentials
// when they are about to expire.
type TokenRefresher struct {
	store     store.CredentialStore
	exchanger TokenExchanger
	margin    time.Duration
	now       func() time.Time
}

// NewTokenRefresher returns a refresher with the default margin.
func NewTokenRefresher(s store.CredentialStore, ex TokenExchanger) *TokenRefresher {
	return &TokenRefresher{
		store:     s,
		exchanger: ex,
		margin:    DefaultRefreshMargin,
		now:       time.Now,
	}
}

// WithMargin overrides the refresh margin.
func (r *TokenRefresher) WithMargin(d time.Duration) *TokenRefresher {
	if d > 0 {
		r.margin = d
	}
	return r
}

// EnsureValidToken returns an access token for cred that is valid for at
// least the refresh margin.
//
// A token that expires after now+margin is returned as is. Otherwise the
// refresh token is exchanged and the new triple is written back with a
// single UpdateTokens call. On failure the returned token is "" and the
// error wraps ErrRefreshFailed; the stored record is left untouched.
//
// A failed write-back is logged and the fresh token is still returned, so
// the current report does not lose the participant.
func (r *TokenRefresher) EnsureValidToken(ctx context.Context, id string, cred *store.Credential) (string, error) {
	now := r.now()
	if cred.ExpiresAt > now.Add(r.margin).Unix() {
		metrics.TokenRefreshes.WithLabelValues("skipped").Inc()
		return cred.AccessToken, nil
	}

	logging.Ctx(ctx).Info().Str("athlete_id", id).Int64("expires_at", cred.ExpiresAt).Msg("[AUTH] Refreshing access token")

	grant, err := r.exchanger.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w for athlete %s: %w", ErrRefreshFailed, id, err)
	}

	err = r.store.UpdateTokens(ctx, id, store.TokenSet{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("persist_failed").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("athlete_id", id).Msg("[AUTH] Failed to persist refreshed token")
		return grant.AccessToken, nil
	}

	metrics.TokenRefreshes.WithLabelValues("refreshed").Inc()
	return grant.AccessToken, nil
}
