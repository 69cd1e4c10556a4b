// Package discord implements connector.Connector against Discord's OAuth2
// and /users/@me API, following the same golang.org/x/oauth2.Config shape
// as this module's other provider adapters (dex ships no Discord connector,
// so this one is hand-grounded on Discord's public OAuth2 documentation).
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/modrinth/forgekeep/connector"
)

var endpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/api/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

const apiMeURL = "https://discord.com/api/users/@me"

// Config holds the static configuration for the Discord connector.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func New(c Config) connector.Connector {
	return &discordConnector{
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint:     endpoint,
			Scopes:       []string{"identify", "email"},
		},
	}
}

type discordConnector struct {
	oauth2Config oauth2.Config
}

func (d *discordConnector) RedirectURL(state string) string {
	return d.oauth2Config.AuthCodeURL(state)
}

func (d *discordConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("discord: missing code")
	}
	token, err := d.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("discord: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

type discordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Avatar        string `json:"avatar"`
	GlobalName    string `json:"global_name"`
}

func (d *discordConnector) FetchProfile(ctx context.Context, accessToken string) (connector.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiMeURL, nil)
	if err != nil {
		return connector.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.Profile{}, fmt.Errorf("discord: get /users/@me: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return connector.Profile{}, fmt.Errorf("discord: get /users/@me: status %d", resp.StatusCode)
	}
	var u discordUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return connector.Profile{}, fmt.Errorf("discord: decode user: %w", err)
	}
	avatarURL := ""
	if u.Avatar != "" {
		avatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
	}
	return connector.Profile{
		ProviderUserID: u.ID,
		Username:       u.Username,
		Email:          u.Email,
		AvatarURL:      avatarURL,
		DisplayName:    u.GlobalName,
	}, nil
}
