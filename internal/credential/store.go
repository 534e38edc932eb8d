// Package credential holds per-user, per-provider mail credentials and
// refreshes OAuth tokens on demand. Refresh for a given (user,
// provider) is single-flight: concurrent acquirers collapse into one
// provider call and share its result. Unrelated pairs refresh in
// parallel.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"outreach-dispatch-go/internal/config"
	"outreach-dispatch-go/internal/model"
)

// Reason classifies credential failures.
type Reason string

const (
	ReasonNoActive      Reason = "NO_ACTIVE"
	ReasonExpired       Reason = "EXPIRED"
	ReasonRefreshFailed Reason = "REFRESH_FAILED"
)

// Error is a credential failure requiring user re-authentication; the
// engine must not retry the same credential.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is a credential failure and
// returns its reason.
func IsCredentialError(err error) (Reason, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}

// Credential is a decrypted, ready-to-use credential.
type Credential struct {
	ID          string
	UserID      string
	Provider    string
	SenderEmail string
	AccessToken string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// TokenRefresher exchanges a refresh token for a fresh access token.
// Injected so tests can count provider calls.
type TokenRefresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error)
}

// Store manages credentials in the database.
type Store struct {
	db        *gorm.DB
	sealer    *sealer
	refresher TokenRefresher
	skew      time.Duration
	group     singleflight.Group
	now       func() time.Time
}

// NewStore creates a credential store. The refresher defaults to the
// real OAuth endpoints when nil.
func NewStore(db *gorm.DB, cfg *config.Config, refresher TokenRefresher) (*Store, error) {
	s, err := newSealer(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}
	if refresher == nil {
		refresher = newOAuthRefresher(cfg.Providers)
	}
	skew := cfg.Providers.RefreshSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Store{
		db:        db,
		sealer:    s,
		refresher: refresher,
		skew:      skew,
		now:       time.Now,
	}, nil
}

// Acquire returns a valid credential for (user, provider), refreshing
// the token first when it is expired or expiring within the skew.
func (s *Store) Acquire(ctx context.Context, userID, provider string) (*Credential, error) {
	rec, err := s.loadActive(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	if rec.Provider == model.ProviderSMTP {
		return s.decryptSMTP(rec)
	}

	if rec.TokenExpiresAt != nil && rec.TokenExpiresAt.After(s.now().Add(s.skew)) {
		access, err := s.sealer.open(rec.AccessTokenEnc)
		if err == nil && access != "" {
			return s.asOAuthCredential(rec, access), nil
		}
		// Unreadable cached token: fall through to refresh.
	}

	return s.refresh(ctx, userID, provider)
}

// AcquireActive resolves the user's active credential regardless of
// provider, preferring the most recently updated one, then goes through
// the normal acquire path.
func (s *Store) AcquireActive(ctx context.Context, userID string) (*Credential, error) {
	var rec model.EmailCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active", userID).
		Order("updated_at desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Reason: ReasonNoActive}
	}
	if err != nil {
		return nil, fmt.Errorf("credential: lookup failed: %w", err)
	}
	return s.Acquire(ctx, userID, rec.Provider)
}

// refresh collapses concurrent refreshes for the same (user, provider)
// into one provider call; later callers await the in-flight result.
func (s *Store) refresh(ctx context.Context, userID, provider string) (*Credential, error) {
	key := userID + "|" + provider
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Reload inside the flight: a just-finished refresh may have
		// already rotated the token.
		rec, err := s.loadActive(ctx, userID, provider)
		if err != nil {
			return nil, err
		}
		if rec.TokenExpiresAt != nil && rec.TokenExpiresAt.After(s.now().Add(s.skew)) {
			if access, err := s.sealer.open(rec.AccessTokenEnc); err == nil && access != "" {
				return s.asOAuthCredential(rec, access), nil
			}
		}

		refreshToken, err := s.sealer.open(rec.RefreshTokenEnc)
		if err != nil || refreshToken == "" {
			s.deactivate(ctx, rec)
			return nil, &Error{Reason: ReasonRefreshFailed, Err: fmt.Errorf("no usable refresh token")}
		}

		tok, err := s.refresher.Refresh(ctx, rec.Provider, refreshToken)
		if err != nil {
			// Persistent auth failure: deactivate, never delete. The
			// user must re-authenticate before this pair works again.
			s.deactivate(ctx, rec)
			return nil, &Error{Reason: ReasonRefreshFailed, Err: err}
		}

		if err := s.storeRotated(ctx, rec, tok); err != nil {
			return nil, err
		}
		return s.asOAuthCredential(rec, tok.AccessToken), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// SaveOAuth creates or replaces the active OAuth credential for
// (user, provider). Any previously active credential for the pair is
// deactivated first, preserving the at-most-one-active invariant.
func (s *Store) SaveOAuth(ctx context.Context, userID, provider, senderEmail, refreshToken string) (*model.EmailCredential, error) {
	refreshEnc, err := s.sealer.seal(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("credential: seal failed: %w", err)
	}

	rec := &model.EmailCredential{
		UserID:          userID,
		Provider:        provider,
		SenderEmail:     senderEmail,
		RefreshTokenEnc: refreshEnc,
		IsActive:        true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.EmailCredential{}).
			Where("user_id = ? AND provider = ? AND is_active", userID, provider).
			Update("is_active", false).Error; err != nil {
			return err
		}
		rec.ID = uuid.NewString()
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, fmt.Errorf("credential: save failed: %w", err)
	}
	return rec, nil
}

func (s *Store) loadActive(ctx context.Context, userID, provider string) (*model.EmailCredential, error) {
	var rec model.EmailCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND is_active", userID, provider).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{Reason: ReasonNoActive}
	}
	if err != nil {
		return nil, fmt.Errorf("credential: lookup failed: %w", err)
	}
	return &rec, nil
}

func (s *Store) deactivate(ctx context.Context, rec *model.EmailCredential) {
	err := s.db.WithContext(ctx).Model(rec).Update("is_active", false).Error
	if err != nil {
		logrus.Errorf("Failed to deactivate credential %s: %v", rec.ID, err)
	}
}

func (s *Store) storeRotated(ctx context.Context, rec *model.EmailCredential, tok *oauth2.Token) error {
	accessEnc, err := s.sealer.seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("credential: seal rotated token failed: %w", err)
	}
	updates := map[string]any{
		"access_token_enc": accessEnc,
		"token_expires_at": tok.Expiry,
	}
	if tok.RefreshToken != "" {
		refreshEnc, err := s.sealer.seal(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("credential: seal rotated refresh token failed: %w", err)
		}
		updates["refresh_token_enc"] = refreshEnc
	}
	if err := s.db.WithContext(ctx).Model(rec).Updates(updates).Error; err != nil {
		return fmt.Errorf("credential: store rotated token failed: %w", err)
	}
	rec.TokenExpiresAt = &tok.Expiry
	return nil
}

func (s *Store) asOAuthCredential(rec *model.EmailCredential, accessToken string) *Credential {
	return &Credential{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Provider:    rec.Provider,
		SenderEmail: rec.SenderEmail,
		AccessToken: accessToken,
	}
}

func (s *Store) decryptSMTP(rec *model.EmailCredential) (*Credential, error) {
	pass, err := s.sealer.open(rec.SMTPPasswordEnc)
	if err != nil {
		return nil, &Error{Reason: ReasonNoActive, Err: err}
	}
	return &Credential{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Provider:    rec.Provider,
		SenderEmail: rec.SenderEmail,
		SMTPHost:    rec.SMTPHost,
		SMTPPort:    rec.SMTPPort,
		SMTPUser:    rec.SenderEmail,
		SMTPPass:    pass,
	}, nil
}

// oauthRefresher performs real token refreshes against the provider
// endpoints.
type oauthRefresher struct {
	gmail   oauth2.Config
	outlook oauth2.Config
}

func newOAuthRefresher(cfg config.ProvidersConfig) *oauthRefresher {
	tenant := cfg.OutlookTenant
	if tenant == "" {
		tenant = "common"
	}
	return &oauthRefresher{
		gmail: oauth2.Config{
			ClientID:     cfg.Gmail.ClientID,
			ClientSecret: cfg.Gmail.ClientSecret,
			Endpoint:     google.Endpoint,
		},
		outlook: oauth2.Config{
			ClientID:     cfg.Outlook.ClientID,
			ClientSecret: cfg.Outlook.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
	}
}

func (r *oauthRefresher) Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error) {
	var conf *oauth2.Config
	switch provider {
	case model.ProviderGmail:
		conf = &r.gmail
	case model.ProviderOutlook:
		conf = &r.outlook
	default:
		return nil, fmt.Errorf("credential: provider %s does not refresh", provider)
	}

	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return tok, nil
}
