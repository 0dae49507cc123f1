package scim

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// accessTokenSource fetches client credential tokens. Some identity
// servers omit expires_in, in that case the expiry comes from the JWT
// exp claim so the reuse source refreshes in time.
type accessTokenSource struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (s accessTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.Token(s.ctx)
	if err != nil {
		return nil, err
	}

	if tok.Expiry.IsZero() {
		if exp, ok := ExpiryFromJWT(tok.AccessToken); ok {
			tok.Expiry = exp
		}
	}

	return tok, nil
}

// NewTokenSource returns a cached client credentials token source
func NewTokenSource(ctx context.Context, cfg Config) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return oauth2.ReuseTokenSource(nil, accessTokenSource{ctx: ctx, cfg: cc})
}

// ExpiryFromJWT reads the exp claim without verifying the signature.
// The token is only inspected to schedule a refresh, the identity server
// remains the one validating it.
func ExpiryFromJWT(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}
