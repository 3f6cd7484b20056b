// Package oauthflow drives the authorization-code + PKCE exchange that
// connects a calendar provider.
package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/quantumlife/planner/internal/config"
	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/notifications"
	"github.com/quantumlife/planner/internal/spaces"
	"github.com/quantumlife/planner/internal/storage"
	"github.com/quantumlife/planner/internal/vault"
)

var log = logging.Component("oauth")

// PendingTTL is how long a started flow may wait for its callback.
const PendingTTL = 10 * time.Minute

// ConfigFor returns the OAuth2 config builder for the configured providers.
func ConfigFor(cfg *config.Config) vault.ConfigFunc {
	return func(p core.Provider) (*oauth2.Config, error) {
		return spaces.OAuthConfig(p, spaces.ProviderSettings(cfg, p), cfg.RedirectURI())
	}
}

// Connections is told about providers that finished connecting.
type Connections interface {
	MarkConnected(ctx context.Context, p core.Provider) error
	RequestImmediate()
}

// Options configures a Controller
type Options struct {
	Config      *config.Config
	Records     storage.Records
	Vault       *vault.Vault
	Connections Connections
	Notifier    notifications.Notifier
	HTTPClient  *http.Client // used for the token exchange
	Now         func() time.Time
}

// Controller is the OAuthFlowController. It owns the single pending
// request slot.
type Controller struct {
	cfg         *config.Config
	oauth       vault.ConfigFunc
	records     storage.Records
	vault       *vault.Vault
	connections Connections
	notifier    notifications.Notifier
	httpClient  *http.Client
	now         func() time.Time

	mu sync.Mutex // guards the pending slot
}

// New creates a flow controller
func New(opts Options) *Controller {
	c := &Controller{
		cfg:         opts.Config,
		oauth:       ConfigFor(opts.Config),
		records:     opts.Records,
		vault:       opts.Vault,
		connections: opts.Connections,
		notifier:    opts.Notifier,
		httpClient:  opts.HTTPClient,
		now:         opts.Now,
	}
	if c.notifier == nil {
		c.notifier = notifications.LogNotifier{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// StartFlow stores a fresh pending request, replacing any unconsumed one,
// and returns the authorization URL to redirect the browser to.
func (c *Controller) StartFlow(ctx context.Context, p core.Provider) (string, error) {
	oauthCfg, err := c.oauth(p)
	if err != nil {
		return "", err
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}
	pending := core.OAuthPendingRequest{
		Provider:     p,
		State:        state,
		CodeVerifier: oauth2.GenerateVerifier(),
		RedirectURI:  oauthCfg.RedirectURL,
		CreatedAt:    c.now().UTC(),
	}

	m, err := storage.PutJSON(storage.KeyOAuthPending, pending)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	err = c.records.Apply(ctx, m)
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("store pending authorization: %w", err)
	}

	opts := append(spaces.AuthCodeOptions(p), oauth2.S256ChallengeOption(pending.CodeVerifier))
	log.WithField("provider", p).Info("authorization started")
	return oauthCfg.AuthCodeURL(state, opts...), nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CallbackParams are the query parameters of the provider's redirect
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// HasCallback reports whether a query carries an authorization response.
func HasCallback(q url.Values) bool {
	return q.Get("code") != "" || q.Get("error") != ""
}

// CallbackParamsFromQuery reads the authorization response from a query.
func CallbackParamsFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// CompleteFlow consumes the pending request and, when the callback is
// valid, exchanges the code for a session. The pending request is cleared
// whatever the outcome. Failures are surfaced as a warning notice and are
// never retried.
func (c *Controller) CompleteFlow(ctx context.Context, params CallbackParams) (core.Provider, error) {
	pending := c.takePending(ctx)

	var provider core.Provider
	if pending != nil {
		provider = pending.Provider
	}

	err := c.complete(ctx, pending, params)
	if err != nil {
		log.WithField("provider", provider).WithError(err).Warn("authorization failed")
		c.notifier.Notify(notifications.Warning("Calendar connection failed", provider, err))
		return provider, err
	}

	log.WithField("provider", provider).Info("authorization completed")
	c.notifier.Notify(notifications.Notice{
		Level:    notifications.LevelSuccess,
		Title:    provider.DisplayName() + " connected",
		Message:  "Your events are being synced.",
		Provider: provider,
	})
	return provider, nil
}

// takePending reads and clears the pending slot in one step. A failed
// clear is logged and does not fail the flow.
func (c *Controller) takePending(ctx context.Context) *core.OAuthPendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending core.OAuthPendingRequest
	ok, err := storage.GetJSON(ctx, c.records, storage.KeyOAuthPending, &pending)
	if err != nil {
		log.WithError(err).Warn("failed to read pending authorization")
	}
	if clearErr := c.records.Apply(ctx, storage.Delete(storage.KeyOAuthPending)); clearErr != nil {
		log.WithError(clearErr).Warn("failed to clear pending authorization")
	}
	if err != nil || !ok {
		return nil
	}
	return &pending
}

func (c *Controller) complete(ctx context.Context, pending *core.OAuthPendingRequest, params CallbackParams) error {
	if pending == nil {
		return fmt.Errorf("%w: no authorization in progress", core.ErrExpiredOrTamperedState)
	}
	if c.now().Sub(pending.CreatedAt) > PendingTTL {
		return fmt.Errorf("%w: authorization started more than %s ago", core.ErrExpiredOrTamperedState, PendingTTL)
	}
	if subtle.ConstantTimeCompare([]byte(params.State), []byte(pending.State)) != 1 {
		return fmt.Errorf("%w: state mismatch", core.ErrExpiredOrTamperedState)
	}
	if params.Error != "" {
		return &core.ProviderDeniedError{
			Provider:    pending.Provider,
			Code:        params.Error,
			Description: params.ErrorDescription,
		}
	}
	if params.Code == "" {
		return fmt.Errorf("%w: callback carried no code", core.ErrTokenExchangeFailed)
	}

	oauthCfg, err := c.oauth(pending.Provider)
	if err != nil {
		return err
	}
	oauthCfg.RedirectURL = pending.RedirectURI

	exchangeCtx := ctx
	if c.httpClient != nil {
		exchangeCtx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	tok, err := oauthCfg.Exchange(exchangeCtx, params.Code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return fmt.Errorf("%w: %s", core.ErrTokenExchangeFailed, vault.GrantErrorReason(err))
	}

	session := vault.SessionFromToken(tok, c.now())
	if err := c.vault.Store(ctx, pending.Provider, session); err != nil {
		return err
	}
	if err := c.connections.MarkConnected(ctx, pending.Provider); err != nil {
		return err
	}
	c.connections.RequestImmediate()
	return nil
}
