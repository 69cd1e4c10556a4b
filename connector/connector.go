// Package connector defines a uniform federated-identity interface,
// following the shape of dexidp/dex's own connector.Connector /
// CallbackConnector split but collapsed to the three methods this system
// actually needs: redirect, exchange, fetch profile.
package connector

import (
	"context"
	"net/url"

	"github.com/modrinth/forgekeep/storage"
)

// Profile is the normalized shape every provider's userinfo call is mapped
// onto.
type Profile struct {
	ProviderUserID string
	Username       string
	Email          string
	AvatarURL      string
	DisplayName    string
	Country        string
}

// Connector is one federated identity provider adapter.
type Connector interface {
	// RedirectURL builds the provider's authorize URL carrying state.
	RedirectURL(state string) string
	// ExchangeCode trades the callback's query parameters for an opaque
	// access token. Steam's OpenID 2.0 flow folds its verification
	// round-trip into this call since it has no authorization code.
	ExchangeCode(ctx context.Context, query url.Values) (string, error)
	// FetchProfile calls the provider's userinfo endpoint and normalizes
	// the result.
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}

// Registry maps a storage.Provider to its configured Connector.
type Registry map[storage.Provider]Connector

func (r Registry) Get(p storage.Provider) (Connector, bool) {
	c, ok := r[p]
	return c, ok
}
