package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func TestRegistry_LookupCachesList(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"tokens":[
			{"address":"So11111111111111111111111111111111111111112","name":"Wrapped SOL","symbol":"SOL","decimals":9},
			{"address":"` + bonkMint + `","name":"Bonk","symbol":"Bonk","decimals":5,"logoURI":"https://bonk/logo.png"}
		]}`))
	}))
	defer server.Close()

	r := NewRegistry(server.URL, time.Second)
	ctx := context.Background()

	tok, ok, err := r.Lookup(ctx, bonkMint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bonk", tok.Name)
	assert.Equal(t, "Bonk", tok.Symbol)
	assert.Equal(t, uint8(5), tok.Decimals)
	assert.Equal(t, "https://bonk/logo.png", tok.LogoURI)

	_, ok, err = r.Lookup(ctx, "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// Expire the cache.
	r.now = func() time.Time { return time.Now().Add(7 * time.Hour) }
	_, _, err = r.Lookup(ctx, bonkMint)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRegistry_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewRegistry(server.URL, time.Second)
	_, _, err := r.Lookup(context.Background(), bonkMint)
	assert.Error(t, err)

	_, _, err = r.Lookup(context.Background(), `x") || true`)
	assert.Error(t, err)
}
