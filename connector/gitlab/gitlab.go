// Package gitlab implements connector.Connector against GitLab's OAuth2 and
// REST APIs, following dexidp/dex's connector/gitlab package.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/modrinth/forgekeep/connector"
)

// Config holds the static configuration for the GitLab connector.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string // defaults to https://gitlab.com
}

func New(c Config) connector.Connector {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	return &gitlabConnector{
		baseURL: baseURL,
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/oauth/authorize",
				TokenURL: baseURL + "/oauth/token",
			},
			Scopes: []string{"read_user"},
		},
	}
}

type gitlabConnector struct {
	baseURL      string
	oauth2Config oauth2.Config
}

func (g *gitlabConnector) RedirectURL(state string) string {
	return g.oauth2Config.AuthCodeURL(state)
}

func (g *gitlabConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("gitlab: missing code")
	}
	token, err := g.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("gitlab: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

type gitlabUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar_url"`
}

func (g *gitlabConnector) FetchProfile(ctx context.Context, accessToken string) (connector.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/v4/user", nil)
	if err != nil {
		return connector.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.Profile{}, fmt.Errorf("gitlab: get user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return connector.Profile{}, fmt.Errorf("gitlab: get user: status %d", resp.StatusCode)
	}
	var u gitlabUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return connector.Profile{}, fmt.Errorf("gitlab: decode user: %w", err)
	}
	return connector.Profile{
		ProviderUserID: strconv.Itoa(u.ID),
		Username:       u.Username,
		Email:          u.Email,
		AvatarURL:      u.Avatar,
		DisplayName:    u.Name,
	}, nil
}
