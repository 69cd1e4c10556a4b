// Package github implements connector.Connector against GitHub's OAuth2 and
// REST APIs, following dexidp/dex's connector/github package for the
// x-oauth-client-id verification and the pagination-free '/user'/'/user/emails'
// call shape.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	xgithub "golang.org/x/oauth2/github"

	"github.com/modrinth/forgekeep/connector"
)

const apiURL = "https://api.github.com"

// Config holds the static configuration for the GitHub connector.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// New builds a GitHub connector.Connector.
func New(c Config) connector.Connector {
	return &githubConnector{
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint:     xgithub.Endpoint,
			Scopes:       []string{"user:email"},
		},
		clientID: c.ClientID,
	}
}

type githubConnector struct {
	oauth2Config oauth2.Config
	clientID     string
}

func (g *githubConnector) RedirectURL(state string) string {
	return g.oauth2Config.AuthCodeURL(state)
}

func (g *githubConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("github: missing code")
	}
	token, err := g.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("github: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

type githubUser struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubUserEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *githubConnector) FetchProfile(ctx context.Context, accessToken string) (connector.Profile, error) {
	// Tokens of the modern "gho_"/"ghp_" form carry an x-oauth-client-id
	// response header that must match the configured client; this guards
	// against a token minted for a different GitHub OAuth app being
	// replayed against this deployment.
	user, clientIDHeader, err := g.getUser(ctx, accessToken)
	if err != nil {
		return connector.Profile{}, err
	}
	if (strings.HasPrefix(accessToken, "gho_") || strings.HasPrefix(accessToken, "ghp_")) &&
		clientIDHeader != "" && clientIDHeader != g.clientID {
		return connector.Profile{}, fmt.Errorf("github: token client id mismatch")
	}

	email, err := g.getPrimaryEmail(ctx, accessToken)
	if err != nil {
		return connector.Profile{}, err
	}

	return connector.Profile{
		ProviderUserID: strconv.Itoa(user.ID),
		Username:       user.Login,
		Email:          email,
		AvatarURL:      user.AvatarURL,
		DisplayName:    user.Name,
	}, nil
}

func (g *githubConnector) getUser(ctx context.Context, accessToken string) (githubUser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/user", nil)
	if err != nil {
		return githubUser{}, "", err
	}
	req.Header.Set("Authorization", "token "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return githubUser{}, "", fmt.Errorf("github: get user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return githubUser{}, "", fmt.Errorf("github: get user: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return githubUser{}, "", err
	}
	var u githubUser
	if err := json.Unmarshal(body, &u); err != nil {
		return githubUser{}, "", fmt.Errorf("github: decode user: %w", err)
	}
	return u, resp.Header.Get("x-oauth-client-id"), nil
}

func (g *githubConnector) getPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/user/emails", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "token "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github: get emails: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	var emails []githubUserEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", fmt.Errorf("github: decode emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
