// Package paypal implements connector.Connector against PayPal's "Log in
// with PayPal" OpenID Connect-flavored API: an oauth2.Config with
// AuthStyleInHeader for the Basic-auth token exchange, and a hand-coded
// identity/openidconnect/userinfo profile call.
package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/modrinth/forgekeep/connector"
)

// Config holds the static configuration for the PayPal connector.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// APIBaseURL is e.g. "https://api-m.paypal.com/v1/" or the sandbox
	// equivalent; must end in a slash.
	APIBaseURL string
	// AuthBaseURL is e.g. "https://www.paypal.com" or "https://www.sandbox.paypal.com".
	AuthBaseURL string
}

func New(c Config) connector.Connector {
	return &paypalConnector{
		apiBaseURL: c.APIBaseURL,
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthBaseURL + "/connect",
				TokenURL:  c.APIBaseURL + "oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: []string{"openid", "email", "address", "https://uri.paypal.com/services/paypalattributes"},
		},
	}
}

type paypalConnector struct {
	apiBaseURL   string
	oauth2Config oauth2.Config
}

func (p *paypalConnector) RedirectURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("flowEntry", "static"))
}

func (p *paypalConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("paypal: missing code")
	}
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("paypal: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

type paypalUser struct {
	PayerID string `json:"payer_id"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	Address struct {
		Country string `json:"country"`
	} `json:"address"`
}

func (p *paypalConnector) FetchProfile(ctx context.Context, accessToken string) (connector.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.apiBaseURL+"identity/openidconnect/userinfo?schema=openid", nil)
	if err != nil {
		return connector.Profile{}, err
	}
	req.Header.Set("User-Agent", "forgekeep")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.Profile{}, fmt.Errorf("paypal: get userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return connector.Profile{}, fmt.Errorf("paypal: get userinfo: status %d", resp.StatusCode)
	}
	var u paypalUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return connector.Profile{}, fmt.Errorf("paypal: decode userinfo: %w", err)
	}
	username := u.Email
	if at := strings.Index(u.Email, "@"); at >= 0 {
		username = u.Email[:at]
	}
	return connector.Profile{
		ProviderUserID: u.PayerID,
		Username:       username,
		Email:          u.Email,
		AvatarURL:      u.Picture,
		Country:        u.Address.Country,
	}, nil
}
