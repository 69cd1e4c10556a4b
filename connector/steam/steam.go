// Package steam implements connector.Connector against Steam's legacy
// OpenID 2.0 provider, since Steam never adopted OAuth2: a checkid_setup
// redirect, a check_authentication verification POST in place of a code
// exchange, and a GetPlayerSummaries call for the profile.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/modrinth/forgekeep/connector"
)

const (
	loginURL     = "https://steamcommunity.com/openid/login"
	playerSumURL = "https://api.steampowered.com/ISteamUser/GetPlayerSummaries/v0002/"
	identityNS   = "http://specs.openid.net/auth/2.0"
)

// Config holds the static configuration for the Steam connector.
type Config struct {
	RedirectURI string
	APIKey      string
	// RealmURI is the openid.realm value, normally the site's own origin.
	RealmURI string
}

func New(c Config) connector.Connector {
	return &steamConnector{cfg: c}
}

type steamConnector struct {
	cfg Config
}

func (s *steamConnector) RedirectURL(state string) string {
	v := url.Values{}
	v.Set("openid.ns", identityNS)
	v.Set("openid.mode", "checkid_setup")
	v.Set("openid.return_to", s.cfg.RedirectURI+"?state="+state)
	v.Set("openid.realm", s.cfg.RealmURI)
	v.Set("openid.identity", identityNS+"/identifier_select")
	v.Set("openid.claimed_id", identityNS+"/identifier_select")
	return loginURL + "?" + v.Encode()
}

// ExchangeCode performs Steam's check_authentication round-trip and returns
// the 64-bit SteamID (encoded as a string) extracted from openid.identity,
// in place of an opaque access token — Steam's profile endpoint is keyed
// directly by SteamID, so the "token" passed on to FetchProfile is the id
// itself.
func (s *steamConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	signed := query.Get("openid.signed")
	if signed == "" || query.Get("openid.assoc_handle") == "" || query.Get("openid.sig") == "" {
		return "", fmt.Errorf("steam: missing openid parameters")
	}

	form := url.Values{}
	form.Set("openid.assoc_handle", query.Get("openid.assoc_handle"))
	form.Set("openid.signed", signed)
	form.Set("openid.sig", query.Get("openid.sig"))
	form.Set("openid.ns", identityNS)
	form.Set("openid.mode", "check_authentication")
	for _, field := range strings.Split(signed, ",") {
		if v := query.Get("openid." + field); v != "" {
			form.Set("openid."+field, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept-language", "en")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("steam: check_authentication: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("steam: read check_authentication response: %w", err)
	}
	if !strings.Contains(string(body), "is_valid:true") {
		return "", fmt.Errorf("steam: assertion not valid")
	}

	identity := query.Get("openid.identity")
	if identity == "" {
		return "", fmt.Errorf("steam: missing openid.identity")
	}
	parts := strings.Split(strings.TrimRight(identity, "/"), "/")
	steamID := parts[len(parts)-1]
	if _, err := strconv.ParseUint(steamID, 10, 64); err != nil {
		return "", fmt.Errorf("steam: malformed steamid in identity url: %w", err)
	}
	return steamID, nil
}

type steamSummaryResponse struct {
	Response struct {
		Players []struct {
			SteamID     string `json:"steamid"`
			PersonaName string `json:"personaname"`
			ProfileURL  string `json:"profileurl"`
			Avatar      string `json:"avatar"`
		} `json:"players"`
	} `json:"response"`
}

func (s *steamConnector) FetchProfile(ctx context.Context, steamID string) (connector.Profile, error) {
	v := url.Values{}
	v.Set("key", s.cfg.APIKey)
	v.Set("steamids", steamID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playerSumURL+"?"+v.Encode(), nil)
	if err != nil {
		return connector.Profile{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return connector.Profile{}, fmt.Errorf("steam: get player summaries: %w", err)
	}
	defer resp.Body.Close()
	var out steamSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return connector.Profile{}, fmt.Errorf("steam: decode player summaries: %w", err)
	}
	if len(out.Response.Players) == 0 {
		return connector.Profile{}, fmt.Errorf("steam: no player found for id %s", steamID)
	}
	player := out.Response.Players[0]
	username := player.PersonaName
	if trimmed := strings.Trim(player.ProfileURL, "/"); trimmed != "" {
		parts := strings.Split(trimmed, "/")
		if last := parts[len(parts)-1]; last != "" {
			username = last
		}
	}
	return connector.Profile{
		ProviderUserID: player.SteamID,
		Username:       username,
		AvatarURL:      player.Avatar,
		DisplayName:    player.PersonaName,
	}, nil
}
