package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/crypto"
	"assistant_server/pkg/logger"
)

// GmailFactory builds Gmail clients bound to a user's decrypted tokens.
type GmailFactory struct {
	cfg   *GmailConfig
	users out.UserRepository
	cb    *gobreaker.CircuitBreaker
}

// NewGmailFactory creates the factory. All clients share one breaker.
func NewGmailFactory(cfg *GmailConfig, users out.UserRepository) *GmailFactory {
	return &GmailFactory{
		cfg:   cfg,
		users: users,
		cb:    NewGmailBreaker(),
	}
}

// ForUser loads the user, decrypts the OAuth tokens and returns a bound
// client. Users without tokens get an auth error, not a nil client.
func (f *GmailFactory) ForUser(ctx context.Context, userID int64) (out.MailProvider, error) {
	user, err := f.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasMailTokens() {
		return nil, apperr.AuthExpired("gmail", nil).WithDetail("user_id", userID)
	}

	accessToken, err := crypto.DecryptToken(user.EncryptedAccessToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	refreshToken, err := crypto.DecryptToken(user.EncryptedRefreshToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if user.TokenExpiry != nil {
		token.Expiry = *user.TokenExpiry
	}

	return NewGmailClient(f.cfg, token, f.cb, f.persistTokens(userID, refreshToken)), nil
}

// persistTokens writes a refreshed token pair back to the user row so a
// restart picks up where the refresh left off. Google often omits the
// refresh token on refresh responses; the known one is kept in that case.
func (f *GmailFactory) persistTokens(userID int64, currentRefresh string) func(*oauth2.Token) {
	return func(tok *oauth2.Token) {
		refresh := tok.RefreshToken
		if refresh == "" {
			refresh = currentRefresh
		}

		encAccess, err := crypto.EncryptToken(tok.AccessToken)
		if err != nil {
			logger.WithError(err).Error("encrypting refreshed access token failed")
			return
		}
		encRefresh, err := crypto.EncryptToken(refresh)
		if err != nil {
			logger.WithError(err).Error("encrypting refresh token failed")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.users.UpdateTokens(ctx, userID, encAccess, encRefresh, tok.Expiry); err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("persisting refreshed tokens failed")
		}
	}
}

var _ out.MailProviderFactory = (*GmailFactory)(nil)
