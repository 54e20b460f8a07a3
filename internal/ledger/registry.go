package ledger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"solana-twin-mirror/internal/solana"
)

// RegistryToken is one entry of the public token list.
type RegistryToken struct {
	Address  string
	Name     string
	Symbol   string
	LogoURI  string
	Decimals uint8
}

// Registry looks up token metadata in the Solana token list JSON. The list is
// downloaded lazily and cached for TTL.
type Registry struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu        sync.Mutex
	body      []byte
	fetchedAt time.Time
	now       func() time.Time
}

// NewRegistry creates a registry reading the token list at url.
func NewRegistry(url string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		url:    url,
		client: &http.Client{Timeout: timeout},
		ttl:    6 * time.Hour,
		now:    time.Now,
	}
}

// Lookup returns the registry entry of mint. ok is false when the list has no entry.
func (r *Registry) Lookup(ctx context.Context, mint string) (*RegistryToken, bool, error) {
	if !solana.IsValidAddress(mint) {
		return nil, false, fmt.Errorf("invalid mint address %q", mint)
	}

	body, err := r.list(ctx)
	if err != nil {
		return nil, false, err
	}

	entry := gjson.GetBytes(body, `tokens.#(address=="`+mint+`")`)
	if !entry.Exists() {
		return nil, false, nil
	}

	return &RegistryToken{
		Address:  entry.Get("address").String(),
		Name:     entry.Get("name").String(),
		Symbol:   entry.Get("symbol").String(),
		LogoURI:  entry.Get("logoURI").String(),
		Decimals: uint8(entry.Get("decimals").Uint()),
	}, true, nil
}

func (r *Registry) list(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.body != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		return r.body, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch token list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch token list: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token list: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("token list is not valid JSON")
	}

	r.body = body
	r.fetchedAt = r.now()
	return body, nil
}
