// Package authn authenticates requests with tenant-issued bearer tokens or
// API keys.
package authn

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/upb/llm-governance-gateway/internal/policy"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ID is the plugin identifier
const ID = "authn"

// Request metadata keys carrying credentials
const (
	MetadataAuthorization = "authorization"
	MetadataAPIKey        = "x-api-key"
)

// Authentication methods
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Extension keys written after successful authentication
var (
	SubjectKey = pipeline.NewKey[string](ID, "subject")
	MethodKey  = pipeline.NewKey[string](ID, "method")
	RolesKey   = pipeline.NewKey[[]string](ID, "roles")
)

// Plugin verifies request credentials against the tenant's policy
type Plugin struct {
	pipeline.Base
	tenants    policy.Resolver
	logger     *zap.Logger
	now        func() time.Time
	httpClient *http.Client

	mu      sync.Mutex
	keySets map[string]*KeySet
}

// New creates the authentication plugin
func New(tenants policy.Resolver, logger *zap.Logger, priority int) *Plugin {
	return &Plugin{
		Base:       pipeline.NewBase(ID, priority, pipeline.HookAuthenticate),
		tenants:    tenants,
		logger:     logger,
		now:        time.Now,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keySets:    make(map[string]*KeySet),
	}
}

// Authenticate verifies credentials and strips them from the processed
// request so they never reach the backend
func (p *Plugin) Authenticate(ctx context.Context, rc *pipeline.RequestContext) error {
	tenantID := rc.Profile().ID()
	tenant, ok := p.tenants.Tenant(tenantID)
	if !ok {
		return pipeline.NewAuthenticationError("unknown tenant", nil).WithDetail("tenant_id", tenantID)
	}

	req := rc.ProcessedRequest()
	var (
		subject string
		roles   []string
		method  string
		err     error
	)
	switch {
	case req.MetadataValue(MetadataAuthorization) != "":
		method = MethodJWT
		subject, roles, err = p.verifyBearer(ctx, tenant.Auth, req.MetadataValue(MetadataAuthorization))
	case req.MetadataValue(MetadataAPIKey) != "":
		method = MethodAPIKey
		subject, roles, err = verifyAPIKey(tenant.Auth, req.MetadataValue(MetadataAPIKey))
	default:
		return pipeline.NewAuthenticationError("missing credentials", nil)
	}
	if err != nil {
		p.logger.Debug("authentication failed",
			zap.String("tenant_id", tenantID),
			zap.String("method", method),
			zap.Error(err))
		return err
	}

	ext := rc.Extensions()
	pipeline.Set(ext, SubjectKey, subject)
	pipeline.Set(ext, MethodKey, method)
	pipeline.Set(ext, RolesKey, roles)

	rc.SetProcessedRequest(req.WithoutMetadata(MetadataAuthorization, MetadataAPIKey))
	return nil
}

func (p *Plugin) verifyBearer(ctx context.Context, auth policy.AuthSpec, header string) (string, []string, error) {
	token, ok := bearerToken(header)
	if !ok {
		return "", nil, pipeline.NewAuthenticationError("malformed authorization header", nil)
	}
	if auth.JWTSecret == "" && auth.JWKSURL == "" {
		return "", nil, pipeline.NewAuthenticationError("bearer tokens not accepted for tenant", nil)
	}

	v := NewTokenValidator(auth.JWTSecret, auth.Issuer, auth.Audience, p.now)
	if auth.JWKSURL != "" {
		v.WithKeySet(p.keySet(auth.JWKSURL))
	}
	claims, err := v.Validate(ctx, token)
	if err != nil {
		return "", nil, pipeline.NewAuthenticationError("invalid bearer token", err)
	}
	return claims.Subject, claims.Roles, nil
}

// keySet returns the shared key set for a JWKS endpoint so tenants using the
// same provider share one cache
func (p *Plugin) keySet(url string) *KeySet {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks, ok := p.keySets[url]
	if !ok {
		ks = NewKeySet(url, p.httpClient, DefaultJWKSCacheTTL, p.now)
		p.keySets[url] = ks
	}
	return ks
}

func verifyAPIKey(auth policy.AuthSpec, key string) (string, []string, error) {
	for _, k := range auth.APIKeys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			return k.Subject, k.Roles, nil
		}
	}
	return "", nil, pipeline.NewAuthenticationError("invalid api key", nil)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
