package connector

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modrinth/forgekeep/storage"
)

type fakeConnector struct{}

func (fakeConnector) RedirectURL(state string) string { return "https://example.com/authorize?state=" + state }
func (fakeConnector) ExchangeCode(ctx context.Context, query url.Values) (string, error) {
	return "token", nil
}
func (fakeConnector) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	return Profile{ProviderUserID: "1"}, nil
}

func TestRegistryGet(t *testing.T) {
	reg := Registry{storage.ProviderGitHub: fakeConnector{}}

	c, ok := reg.Get(storage.ProviderGitHub)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/authorize?state=xyz", c.RedirectURL("xyz"))

	_, ok = reg.Get(storage.ProviderDiscord)
	assert.False(t, ok)
}
