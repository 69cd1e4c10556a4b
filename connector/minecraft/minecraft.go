// Package minecraft links a Minecraft Java Edition profile to a platform
// account via Microsoft's three-legged Xbox Live/XSTS exchange: an
// Xbox Live user token from a Microsoft OAuth2 access token, an XSTS token
// from that, a Minecraft services bearer token from the XSTS token, and
// finally the player's profile (id, name) from the bearer token. This is
// the same chain the official Minecraft launcher uses; it is not an OAuth2
// provider in its own right, so it does not implement connector.Connector.
package minecraft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

const (
	xblAuthURL       = "https://user.auth.xboxlive.com/user/authenticate"
	xstsAuthURL      = "https://xsts.auth.xboxlive.com/xsts/authorize"
	launcherLoginURL = "https://api.minecraftservices.com/launcher/login"
	profileURL       = "https://api.minecraftservices.com/minecraft/profile"
	xstsRelyingParty = "rp://api.minecraftservices.com/"

	liveAuthURL  = "https://login.live.com/oauth20_authorize.srf"
	liveTokenURL = "https://login.live.com/oauth20_token.srf"
)

// Profile is the linked Minecraft player identity.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Config holds the client credentials for the separate login.live.com
// exchange Minecraft linking requires (distinct from the tenant-scoped
// connector/microsoft federated login flow).
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client drives the login.live.com authorization code exchange that
// precedes Link.
type Client struct {
	oauth2Config oauth2.Config
}

func New(c Config) *Client {
	return &Client{oauth2Config: oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  liveAuthURL,
			TokenURL: liveTokenURL,
		},
		Scopes: []string{"XboxLive.signin", "offline_access"},
	}}
}

// RedirectURL returns the login.live.com authorization URL for state.
func (c *Client) RedirectURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// ExchangeCode exchanges query's authorization code for a Microsoft access
// token suitable for Link.
func (c *Client) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("minecraft: missing code")
	}
	token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("minecraft: exchange code: %w", err)
	}
	return token.AccessToken, nil
}

// Link runs the full exchange against msAccessToken, a Microsoft OAuth2
// access token obtained with the XboxLive.signin scope, and returns the
// linked player's profile.
func Link(ctx context.Context, msAccessToken string) (Profile, error) {
	uhs, xblToken, err := loginXBL(ctx, msAccessToken)
	if err != nil {
		return Profile{}, fmt.Errorf("minecraft: xbl signin: %w", err)
	}
	xstsToken, err := fetchXSTS(ctx, xblToken)
	if err != nil {
		return Profile{}, fmt.Errorf("minecraft: xsts: %w", err)
	}
	bearer, err := fetchBearer(ctx, uhs, xstsToken)
	if err != nil {
		return Profile{}, fmt.Errorf("minecraft: bearer: %w", err)
	}
	profile, err := fetchProfile(ctx, bearer)
	if err != nil {
		return Profile{}, fmt.Errorf("minecraft: profile: %w", err)
	}
	return profile, nil
}

type xblRequest struct {
	Properties   xblRequestProperties `json:"Properties"`
	RelyingParty string               `json:"RelyingParty"`
	TokenType    string               `json:"TokenType"`
}

type xblRequestProperties struct {
	AuthMethod string `json:"AuthMethod"`
	SiteName   string `json:"SiteName"`
	RpsTicket  string `json:"RpsTicket"`
}

type xblResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		Xui []struct {
			Uhs string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

func loginXBL(ctx context.Context, msAccessToken string) (uhs, token string, err error) {
	body := xblRequest{
		Properties: xblRequestProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  "d=" + msAccessToken,
		},
		RelyingParty: "http://auth.xboxlive.com",
		TokenType:    "JWT",
	}
	var resp xblResponse
	if err := postJSON(ctx, xblAuthURL, body, &resp, ""); err != nil {
		return "", "", err
	}
	if resp.Token == "" || len(resp.DisplayClaims.Xui) == 0 {
		return "", "", fmt.Errorf("malformed xbl response")
	}
	return resp.DisplayClaims.Xui[0].Uhs, resp.Token, nil
}

type xstsRequest struct {
	Properties   xstsRequestProperties `json:"Properties"`
	RelyingParty string                `json:"RelyingParty"`
	TokenType    string                `json:"TokenType"`
}

type xstsRequestProperties struct {
	SandboxID  string   `json:"SandboxId"`
	UserTokens []string `json:"UserTokens"`
}

type xstsResponse struct {
	Token string `json:"Token"`
}

func fetchXSTS(ctx context.Context, xblToken string) (string, error) {
	body := xstsRequest{
		Properties: xstsRequestProperties{
			SandboxID:  "RETAIL",
			UserTokens: []string{xblToken},
		},
		RelyingParty: xstsRelyingParty,
		TokenType:    "JWT",
	}
	var resp xstsResponse
	if err := postJSON(ctx, xstsAuthURL, body, &resp, ""); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("malformed xsts response, or account lacks an Xbox profile")
	}
	return resp.Token, nil
}

type launcherLoginRequest struct {
	XToken   string `json:"xtoken"`
	Platform string `json:"platform"`
}

type launcherLoginResponse struct {
	AccessToken string `json:"access_token"`
}

func fetchBearer(ctx context.Context, uhs, xstsToken string) (string, error) {
	body := launcherLoginRequest{
		XToken:   fmt.Sprintf("XBL3.0 x=%s;%s", uhs, xstsToken),
		Platform: "PC_LAUNCHER",
	}
	var resp launcherLoginResponse
	if err := postJSON(ctx, launcherLoginURL, body, &resp, ""); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("response didn't contain a valid bearer token")
	}
	return resp.AccessToken, nil
}

func fetchProfile(ctx context.Context, bearer string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("no Minecraft account for profile: status %d", resp.StatusCode)
	}
	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func postJSON(ctx context.Context, url string, body, out interface{}, bearer string) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
