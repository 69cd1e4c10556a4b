package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modrinth/forgekeep/ids"
	"github.com/modrinth/forgekeep/storage"
)

func TestUserInvalidationKeysCoversAllIndexes(t *testing.T) {
	email := "a@example.com"
	u := storage.User{
		ID:       ids.New(),
		Username: "alice",
		Email:    &email,
		ProviderIDs: map[storage.Provider]string{
			storage.ProviderGitHub: "1234",
		},
	}
	keys := userInvalidationKeys(u)
	assert.Contains(t, keys, userByIDPrefix+ids.Encode(u.ID))
	assert.Contains(t, keys, userByUsernamePrefix+"alice")
	assert.Contains(t, keys, userByEmailPrefix+email)
	assert.Contains(t, keys, userByProviderPrefix+"github/1234")
}

func TestUserInvalidationKeysWithoutEmailOrProviders(t *testing.T) {
	u := storage.User{ID: ids.New(), Username: "bob"}
	keys := userInvalidationKeys(u)
	assert.Len(t, keys, 2)
}

func TestOAuthTokenKeyIsHexEncoded(t *testing.T) {
	var hash [32]byte
	hash[0] = 0xab
	key := oauthTokenKey(hash)
	assert.Equal(t, oauthTokenPrefix+"ab0000000000000000000000000000000000000000000000000000000000", key)
}
