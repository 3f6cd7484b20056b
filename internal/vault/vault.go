// Package vault holds the OAuth token sessions of connected providers and
// keeps their access tokens fresh.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/storage"
)

var log = logging.Component("vault")

// DefaultTokenLifetime applies when a token response carries no expiry.
const DefaultTokenLifetime = time.Hour

// ConfigFunc returns the OAuth2 config used to refresh a provider's token.
type ConfigFunc func(p core.Provider) (*oauth2.Config, error)

// PartitionDropper deletes an event partition together with extra
// mutations in one atomic step.
type PartitionDropper interface {
	DropPartition(ctx context.Context, source core.Source, extra ...storage.Mutation) error
}

// Options configures a Vault
type Options struct {
	Sealer     *Sealer // nil stores sessions in plaintext
	OAuth      ConfigFunc
	Events     PartitionDropper
	HTTPClient *http.Client // used for token requests
	Now        func() time.Time
}

// Vault is the TokenVault
type Vault struct {
	records    storage.Records
	sealer     *Sealer
	oauth      ConfigFunc
	events     PartitionDropper
	httpClient *http.Client
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[core.Provider]*core.TokenSession

	refreshes singleflight.Group
}

// New creates a vault over records
func New(records storage.Records, opts Options) *Vault {
	v := &Vault{
		records:    records,
		sealer:     opts.Sealer,
		oauth:      opts.OAuth,
		events:     opts.Events,
		httpClient: opts.HTTPClient,
		now:        opts.Now,
		sessions:   make(map[core.Provider]*core.TokenSession),
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// sealedRecord is the at-rest form of a session when a passphrase is set
type sealedRecord struct {
	Algorithm string `json:"algorithm"`
	Data      string `json:"data"`
}

// Load reads every stored session into memory.
func (v *Vault) Load(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range core.Providers {
		session, err := v.read(ctx, p)
		if err != nil {
			return fmt.Errorf("load %s session: %w", p, err)
		}
		if session == nil {
			delete(v.sessions, p)
			continue
		}
		v.sessions[p] = session
	}
	return nil
}

func (v *Vault) read(ctx context.Context, p core.Provider) (*core.TokenSession, error) {
	data, ok, err := v.records.Get(ctx, storage.SessionKey(string(p)))
	if err != nil || !ok {
		return nil, err
	}

	var sealed sealedRecord
	if err := json.Unmarshal(data, &sealed); err == nil && sealed.Algorithm != "" {
		if v.sealer == nil {
			return nil, errors.New("session is sealed but no vault passphrase is configured")
		}
		raw, err := base64.StdEncoding.DecodeString(sealed.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode sealed session: %w", err)
		}
		if data, err = v.sealer.Open(raw); err != nil {
			return nil, err
		}
	}

	var session core.TokenSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// mutation encodes session for storage under p's key
func (v *Vault) mutation(p core.Provider, session *core.TokenSession) (storage.Mutation, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return storage.Mutation{}, fmt.Errorf("encode session: %w", err)
	}
	if v.sealer != nil {
		ciphertext, err := v.sealer.Seal(data)
		if err != nil {
			return storage.Mutation{}, err
		}
		data, err = json.Marshal(sealedRecord{
			Algorithm: Algorithm,
			Data:      base64.StdEncoding.EncodeToString(ciphertext),
		})
		if err != nil {
			return storage.Mutation{}, err
		}
	}
	return storage.Put(storage.SessionKey(string(p)), data), nil
}

// Store persists session as p's only session.
func (v *Vault) Store(ctx context.Context, p core.Provider, session core.TokenSession) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.storeLocked(ctx, p, session)
}

func (v *Vault) storeLocked(ctx context.Context, p core.Provider, session core.TokenSession) error {
	m, err := v.mutation(p, &session)
	if err != nil {
		return err
	}
	if err := v.records.Apply(ctx, m); err != nil {
		return fmt.Errorf("store %s session: %w", p, err)
	}
	v.sessions[p] = &session
	return nil
}

// Session returns a copy of p's session, or nil when not connected.
func (v *Vault) Session(p core.Provider) *core.TokenSession {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.sessions[p]
	if !ok {
		return nil
	}
	out := *s
	return &out
}

// HasSession reports whether p has a stored session.
func (v *Vault) HasSession(p core.Provider) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.sessions[p]
	return ok
}

// GetValidAccessToken returns p's access token, refreshing it first when
// it is within the expiry margin. Concurrent callers share one refresh.
func (v *Vault) GetValidAccessToken(ctx context.Context, p core.Provider) (string, error) {
	if session := v.Session(p); session == nil {
		return "", fmt.Errorf("%s: %w", p.DisplayName(), core.ErrNotConnected)
	} else if session.Valid(v.now()) {
		return session.AccessToken, nil
	}

	// The shared grant outlives any one caller's cancellation
	shared := context.WithoutCancel(ctx)
	token, err, _ := v.refreshes.Do(string(p), func() (interface{}, error) {
		return v.refresh(shared, p)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh runs the refresh-token grant and persists the renewed session.
// The network call runs without holding the lock.
func (v *Vault) refresh(ctx context.Context, p core.Provider) (string, error) {
	current := v.Session(p)
	if current == nil {
		return "", fmt.Errorf("%s: %w", p.DisplayName(), core.ErrNotConnected)
	}
	// A refresh that finished just before this one started
	if current.Valid(v.now()) {
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		return "", fmt.Errorf("%w: %s has no refresh token", core.ErrTokenRefreshFailed, p.DisplayName())
	}
	if v.oauth == nil {
		return "", fmt.Errorf("%w: no OAuth configuration", core.ErrTokenRefreshFailed)
	}

	cfg, err := v.oauth(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTokenRefreshFailed, err)
	}

	tokenCtx := ctx
	if v.httpClient != nil {
		tokenCtx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)
	}
	tok, err := cfg.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		log.WithField("provider", p).WithError(err).Warn("token refresh failed")
		return "", fmt.Errorf("%w: %s: %v", core.ErrTokenRefreshFailed, p.DisplayName(), GrantErrorReason(err))
	}

	session := SessionFromToken(tok, v.now())
	if session.RefreshToken == "" {
		session.RefreshToken = current.RefreshToken
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	// Disconnected while the request was in flight
	if _, ok := v.sessions[p]; !ok {
		return "", fmt.Errorf("%s: %w", p.DisplayName(), core.ErrNotConnected)
	}
	if err := v.storeLocked(ctx, p, session); err != nil {
		return "", err
	}

	log.WithFields(map[string]interface{}{
		"provider":   p,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	}).Debug("refreshed access token")
	return session.AccessToken, nil
}

// GrantErrorReason extracts the provider's description from a failed token grant.
func GrantErrorReason(err error) string {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorDescription != "" {
			return retrieve.ErrorDescription
		}
		if retrieve.ErrorCode != "" {
			return retrieve.ErrorCode
		}
		if retrieve.Response != nil {
			return fmt.Sprintf("token endpoint returned %d", retrieve.Response.StatusCode)
		}
	}
	return err.Error()
}

// SessionFromToken converts a token response into a session. The expiry
// is pulled in by the clock-skew margin.
func SessionFromToken(tok *oauth2.Token, now time.Time) core.TokenSession {
	var expiresAt time.Time
	switch {
	case tok.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	case !tok.Expiry.IsZero():
		expiresAt = tok.Expiry
	default:
		expiresAt = now.Add(DefaultTokenLifetime)
	}
	return core.TokenSession{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt.Add(-core.TokenExpiryMargin),
	}
}

// Disconnect deletes p's session and every event of p's source in one
// atomic step, together with extra (the settings update).
func (v *Vault) Disconnect(ctx context.Context, p core.Provider, extra ...storage.Mutation) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	mutations := append([]storage.Mutation{storage.Delete(storage.SessionKey(string(p)))}, extra...)

	var err error
	if v.events != nil {
		err = v.events.DropPartition(ctx, p.Source(), mutations...)
	} else {
		err = v.records.Apply(ctx, mutations...)
	}
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", p, err)
	}

	delete(v.sessions, p)
	log.WithField("provider", p).Info("disconnected")
	return nil
}
