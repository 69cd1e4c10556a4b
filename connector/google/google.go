// Package google implements connector.Connector against Google's OAuth2 and
// OpenID userinfo endpoint, following dexidp/dex's connector/google package
// for the endpoint/scope shape.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	xgoogle "golang.org/x/oauth2/google"

	"github.com/modrinth/forgekeep/connector"
)

const userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Config holds the static configuration for the Google connector.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func New(c Config) connector.Connector {
	return &googleConnector{
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint:     xgoogle.Endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
	}
}

type googleConnector struct {
	oauth2Config oauth2.Config
}

func (g *googleConnector) RedirectURL(state string) string {
	return g.oauth2Config.AuthCodeURL(state)
}

func (g *googleConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("google: missing code")
	}
	token, err := g.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("google: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (g *googleConnector) FetchProfile(ctx context.Context, accessToken string) (connector.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return connector.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.Profile{}, fmt.Errorf("google: get userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return connector.Profile{}, fmt.Errorf("google: get userinfo: status %d", resp.StatusCode)
	}
	var u googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return connector.Profile{}, fmt.Errorf("google: decode userinfo: %w", err)
	}
	return connector.Profile{
		ProviderUserID: u.Sub,
		Email:          u.Email,
		AvatarURL:      u.Picture,
		DisplayName:    u.Name,
	}, nil
}
