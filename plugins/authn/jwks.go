package authn

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// ErrJWKSFetchFailed is returned when the key set cannot be retrieved
var ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

// DefaultJWKSCacheTTL is how long a fetched key set is trusted
const DefaultJWKSCacheTTL = time.Hour

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single RSA JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet resolves signing keys published by an identity provider.
// Parsed keys are cached per kid; an unknown kid forces a refetch once the
// cached set has expired.
type KeySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewKeySet creates a key set for the given JWKS endpoint
func NewKeySet(url string, client *http.Client, ttl time.Duration, now func() time.Time) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultJWKSCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &KeySet{
		url:        url,
		httpClient: client,
		ttl:        ttl,
		now:        now,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Key returns the public key with the given kid
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := s.now().Before(s.expiresAt)
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := s.refresh(ctx); err != nil {
		if ok {
			// Serve the stale key while the provider is unreachable
			return key, nil
		}
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

// Invalidate drops all cached keys
func (s *KeySet) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]*rsa.PublicKey)
	s.expiresAt = time.Time{}
}

func (s *KeySet) refresh(ctx context.Context) error {
	jwks, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		key, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			return fmt.Errorf("failed to convert JWK %s: %w", jwk.Kid, err)
		}
		keys[jwk.Kid] = key
	}

	s.mu.Lock()
	s.keys = keys
	s.expiresAt = s.now().Add(s.ttl)
	s.mu.Unlock()
	return nil
}

func (s *KeySet) fetch(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	return &jwks, nil
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("empty exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
