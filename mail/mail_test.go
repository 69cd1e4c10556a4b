package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresFromAddress(t *testing.T) {
	_, err := New(Config{Host: "smtp.example.com:587"})
	assert.Error(t, err)
}

func TestNewRejectsMismatchedCredentials(t *testing.T) {
	_, err := New(Config{Host: "smtp.example.com:587", From: "noreply@example.com", Username: "bob"})
	assert.Error(t, err)
}

func TestNewParsesHostPort(t *testing.T) {
	e, err := New(Config{Host: "smtp.example.com:2525", From: "noreply@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestNoopEmailerRecordsMessages(t *testing.T) {
	n := &NoopEmailer{}
	require.NoError(t, n.Send("hi", "body", "", "a@example.com"))
	require.Len(t, n.Sent, 1)
	assert.Equal(t, "hi", n.Sent[0].Subject)
}

func TestTemplatesRenderLinks(t *testing.T) {
	tpl := Templates{ProductName: "Forgekeep"}
	_, text, html := tpl.VerifyEmail("https://example.com/confirm/abc")
	assert.Contains(t, text, "https://example.com/confirm/abc")
	assert.Contains(t, html, "https://example.com/confirm/abc")
}
