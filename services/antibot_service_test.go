package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifyServer(t *testing.T, handler func(token string) antiBotResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "shh", r.PostForm.Get("secret"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(handler(r.PostForm.Get("response")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAntiBotVerifier_SingleUse(t *testing.T) {
	mr, client := newTestRedis(t)
	srv := newVerifyServer(t, func(string) antiBotResponse { return antiBotResponse{Success: true} })
	v := NewAntiBotVerifier(AntiBotConfig{VerifyURL: srv.URL, Secret: "shh", TokenTTL: time.Minute}, client)
	ctx := context.Background()

	require.NoError(t, v.Verify(ctx, "tok-1", "127.0.0.1"))
	assert.True(t, errors.Is(v.Verify(ctx, "tok-1", "127.0.0.1"), ErrAntiBotTokenStale))
	require.NoError(t, v.Verify(ctx, "tok-2", ""))

	// Once the guard expires the verifier is the one that rejects a replay
	mr.FastForward(2 * time.Minute)
	assert.Len(t, mr.Keys(), 0)
}

func TestAntiBotVerifier_Missing(t *testing.T) {
	v := NewAntiBotVerifier(AntiBotConfig{Development: true}, nil)
	assert.True(t, errors.Is(v.Verify(context.Background(), "  ", ""), ErrAntiBotTokenMissing))
}

func TestAntiBotVerifier_RemoteRejections(t *testing.T) {
	srv := newVerifyServer(t, func(token string) antiBotResponse {
		if token == "old" {
			return antiBotResponse{ErrorCodes: []string{"timeout-or-duplicate"}}
		}
		return antiBotResponse{ErrorCodes: []string{"invalid-input-response"}}
	})
	v := NewAntiBotVerifier(AntiBotConfig{VerifyURL: srv.URL, Secret: "shh"}, nil)

	assert.True(t, errors.Is(v.Verify(context.Background(), "old", ""), ErrAntiBotTokenStale))

	err := v.Verify(context.Background(), "bogus", "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAntiBotTokenStale))
}

func TestAntiBotVerifier_RequiresSecretOutsideDevelopment(t *testing.T) {
	v := NewAntiBotVerifier(AntiBotConfig{}, nil)
	assert.Error(t, v.Verify(context.Background(), "tok", ""))

	dev := NewAntiBotVerifier(AntiBotConfig{Development: true}, nil)
	require.NoError(t, dev.Verify(context.Background(), "tok", ""))
	assert.True(t, errors.Is(dev.Verify(context.Background(), "tok", ""), ErrAntiBotTokenStale))
}
