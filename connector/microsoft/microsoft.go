// Package microsoft implements connector.Connector against Microsoft's
// identity platform v2.0 and the Graph API's /me endpoint, following
// dexidp/dex's connector/microsoft package for the endpoint shape.
package microsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/modrinth/forgekeep/connector"
)

const (
	authURLTemplate  = "https://login.microsoftonline.com/%s/oauth2/v2.0/authorize"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	graphMeURL       = "https://graph.microsoft.com/v1.0/me"
)

// Config holds the static configuration for the Microsoft connector.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Tenant       string // defaults to "common"
}

func New(c Config) connector.Connector {
	tenant := c.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return &microsoftConnector{
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf(authURLTemplate, tenant),
				TokenURL: fmt.Sprintf(tokenURLTemplate, tenant),
			},
			Scopes: []string{"openid", "profile", "email", "User.Read"},
		},
	}
}

type microsoftConnector struct {
	oauth2Config oauth2.Config
}

func (m *microsoftConnector) RedirectURL(state string) string {
	return m.oauth2Config.AuthCodeURL(state)
}

func (m *microsoftConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("microsoft: missing code")
	}
	token, err := m.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("microsoft: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (m *microsoftConnector) FetchProfile(ctx context.Context, accessToken string) (connector.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphMeURL, nil)
	if err != nil {
		return connector.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.Profile{}, fmt.Errorf("microsoft: get /me: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return connector.Profile{}, fmt.Errorf("microsoft: get /me: status %d", resp.StatusCode)
	}
	var u graphUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return connector.Profile{}, fmt.Errorf("microsoft: decode /me: %w", err)
	}
	email := u.Mail
	if email == "" {
		email = u.UserPrincipalName
	}
	return connector.Profile{
		ProviderUserID: u.ID,
		Email:          email,
		DisplayName:    u.DisplayName,
	}, nil
}
