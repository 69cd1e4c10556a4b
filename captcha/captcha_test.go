package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRejectsEmptyChallenge(t *testing.T) {
	v := New("secret")
	ok, err := v.Verify(context.Background(), "", "1.2.3.4")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestVerifyParsesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body.Secret)
		assert.Equal(t, "tok", body.Response)
		_ = json.NewEncoder(w).Encode(verifyResponse{Success: true})
	}))
	defer srv.Close()

	v := &Verifier{secret: "secret", client: srv.Client(), endpoint: srv.URL}
	ok, err := v.Verify(context.Background(), "tok", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyParsesFailureResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Success: false})
	}))
	defer srv.Close()

	v := &Verifier{secret: "secret", client: srv.Client(), endpoint: srv.URL}
	ok, err := v.Verify(context.Background(), "tok", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}
