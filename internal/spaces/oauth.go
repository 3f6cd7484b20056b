package spaces

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"google.golang.org/api/calendar/v3"

	"github.com/quantumlife/planner/internal/config"
	"github.com/quantumlife/planner/internal/core"
)

// Production API roots
const (
	GoogleAPIBase = "https://www.googleapis.com"
	GraphAPIBase  = "https://graph.microsoft.com/v1.0"
)

// OutlookScopes are requested from Microsoft identity platform.
var OutlookScopes = []string{"offline_access", "Calendars.Read"}

// GoogleScopes are requested from Google.
var GoogleScopes = []string{calendar.CalendarReadonlyScope}

// ProviderSettings returns the configured section for p.
func ProviderSettings(cfg *config.Config, p core.Provider) config.ProviderConfig {
	if p == core.ProviderOutlook {
		return cfg.Outlook
	}
	return cfg.Google
}

// OAuthConfig builds the public-client OAuth2 config for a provider. There
// is no client secret; PKCE protects the code exchange.
func OAuthConfig(p core.Provider, pc config.ProviderConfig, redirectURI string) (*oauth2.Config, error) {
	if !pc.Configured() {
		return nil, fmt.Errorf("%s: %w", p.DisplayName(), core.ErrMissingClientConfiguration)
	}

	var endpoint oauth2.Endpoint
	scopes := pc.Scopes
	switch p {
	case core.ProviderGoogle:
		endpoint = google.Endpoint
		if len(scopes) == 0 {
			scopes = GoogleScopes
		}
	case core.ProviderOutlook:
		tenant := pc.Tenant
		if tenant == "" {
			tenant = "common"
		}
		endpoint = microsoft.AzureADEndpoint(tenant)
		if len(scopes) == 0 {
			scopes = OutlookScopes
		}
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownProvider, p)
	}

	if pc.AuthURL != "" {
		endpoint.AuthURL = pc.AuthURL
	}
	if pc.TokenURL != "" {
		endpoint.TokenURL = pc.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &oauth2.Config{
		ClientID:    strings.TrimSpace(pc.ClientID),
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    endpoint,
	}, nil
}

// AuthCodeOptions are the provider-specific extras on the authorization URL.
func AuthCodeOptions(p core.Provider) []oauth2.AuthCodeOption {
	switch p {
	case core.ProviderGoogle:
		return []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	case core.ProviderOutlook:
		return []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "query")}
	}
	return nil
}

// APIBase returns the API root for p, honoring a configured override.
func APIBase(p core.Provider, pc config.ProviderConfig) string {
	if pc.APIBaseURL != "" {
		return strings.TrimRight(pc.APIBaseURL, "/")
	}
	if p == core.ProviderOutlook {
		return GraphAPIBase
	}
	return GoogleAPIBase
}
