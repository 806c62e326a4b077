// Package quota charges requests against a tenant's allowance using the
// reserve, confirm and release protocol of the quota ledger.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/tiktoken-go/tokenizer"
	"github.com/upb/llm-governance-gateway/internal/policy"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/plugins/authn"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	ledgerpkg "github.com/upb/llm-governance-gateway/services/quota"
	"go.uber.org/zap"
)

// ID is the plugin identifier
const ID = "quota"

// Response metadata keys
const (
	MetadataRemaining = "quota_remaining"

	// MetadataTotalTokens is read from the backend response to settle
	// token-based reservations at actual usage
	MetadataTotalTokens = "total_tokens"
)

// Settlement outcomes
const (
	SettlementConfirmed = "confirmed"
	SettlementReleased  = "released"
	SettlementFailed    = "failed"
)

// Reservation describes the units held for one request
type Reservation struct {
	Principal  string `json:"principal"`
	Amount     int64  `json:"amount"`
	Used       int64  `json:"used,omitempty"`
	Settlement string `json:"settlement,omitempty"`
}

// ReservationKey holds the request's reservation
var ReservationKey = pipeline.NewKey[Reservation](ID, "reservation")

// Plugin reserves quota during authentication and settles it during audit
type Plugin struct {
	pipeline.Base
	ledger  ledgerpkg.Ledger
	tenants policy.Resolver
	codec   tokenizer.Codec
	logger  *zap.Logger

	provisioned sync.Map // principal -> provisionKey
}

type provisionKey struct {
	total  int64
	period models.QuotaPeriod
}

// New creates the quota plugin
func New(ledger ledgerpkg.Ledger, tenants policy.Resolver, logger *zap.Logger, priority int) (*Plugin, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &Plugin{
		Base:    pipeline.NewBase(ID, priority, pipeline.HookAuthenticate|pipeline.HookTransformResponse|pipeline.HookAudit),
		ledger:  ledger,
		tenants: tenants,
		codec:   codec,
		logger:  logger,
	}, nil
}

// Authenticate reserves the request's cost. It runs after the authn plugin so
// subject-scoped quotas can use the authenticated subject.
func (p *Plugin) Authenticate(ctx context.Context, rc *pipeline.RequestContext) error {
	tenant, ok := p.tenants.Tenant(rc.Profile().ID())
	if !ok || !tenant.Quota.Enabled() {
		return nil
	}

	principal := p.principal(rc, tenant.Quota)
	if err := p.provision(ctx, principal, tenant.Quota); err != nil {
		return pipeline.NewProcessingError("failed to provision quota", err)
	}

	amount, err := p.amount(rc.ProcessedRequest(), tenant.Quota)
	if err != nil {
		return pipeline.NewProcessingError("failed to estimate request cost", err)
	}

	if err := p.ledger.Reserve(ctx, principal, amount); err != nil {
		if errors.Is(err, ledgerpkg.ErrQuotaExceeded) {
			return pipeline.NewQuotaExceededError("quota exceeded", err).
				WithDetail("principal", principal).
				WithDetail("requested", amount)
		}
		return pipeline.NewProcessingError("failed to reserve quota", err)
	}

	pipeline.Set(rc.Extensions(), ReservationKey, Reservation{Principal: principal, Amount: amount})
	return nil
}

// TransformResponse reports the remaining allowance
func (p *Plugin) TransformResponse(ctx context.Context, rc *pipeline.RequestContext) error {
	res, ok := pipeline.Get(rc.Extensions(), ReservationKey)
	if !ok {
		return nil
	}
	resp, ok := rc.FinalResponse()
	if !ok {
		return nil
	}

	rec, err := p.ledger.GetQuota(ctx, res.Principal)
	if err != nil {
		p.logger.Warn("failed to read quota", zap.String("principal", res.Principal), zap.Error(err))
		return nil
	}
	rc.SetFinalResponse(resp.WithMetadata(MetadataRemaining, strconv.FormatInt(rec.Available(), 10)))
	return nil
}

// Audit confirms the reservation when the request succeeded and releases it
// otherwise. Token-based reservations are confirmed at actual usage when the
// backend reported it.
func (p *Plugin) Audit(ctx context.Context, rc *pipeline.RequestContext) error {
	res, ok := pipeline.Get(rc.Extensions(), ReservationKey)
	if !ok || res.Settlement != "" {
		return nil
	}

	err := p.settle(ctx, rc, &res)
	pipeline.Set(rc.Extensions(), ReservationKey, res)
	if err != nil {
		p.logger.Error("failed to settle quota reservation",
			zap.String("principal", res.Principal),
			zap.Int64("amount", res.Amount),
			zap.Error(err))
	}
	return err
}

func (p *Plugin) settle(ctx context.Context, rc *pipeline.RequestContext, res *Reservation) error {
	if rc.Aborted() {
		if err := p.ledger.Release(ctx, res.Principal, res.Amount); err != nil {
			res.Settlement = SettlementFailed
			return err
		}
		res.Settlement = SettlementReleased
		return nil
	}

	used := res.Amount
	if resp, ok := rc.FinalResponse(); ok && p.tokenStrategy(rc) {
		if n, err := strconv.ParseInt(resp.Metadata[MetadataTotalTokens], 10, 64); err == nil && n > 0 && n < used {
			used = n
		}
	}

	if err := p.ledger.Confirm(ctx, res.Principal, used); err != nil {
		res.Settlement = SettlementFailed
		return err
	}
	if rest := res.Amount - used; rest > 0 {
		if err := p.ledger.Release(ctx, res.Principal, rest); err != nil {
			res.Settlement = SettlementFailed
			return err
		}
	}
	res.Used = used
	res.Settlement = SettlementConfirmed
	return nil
}

func (p *Plugin) tokenStrategy(rc *pipeline.RequestContext) bool {
	tenant, ok := p.tenants.Tenant(rc.Profile().ID())
	return ok && tenant.Quota.Strategy == policy.StrategyTokens
}

func (p *Plugin) principal(rc *pipeline.RequestContext, q policy.QuotaPolicy) string {
	tenantID := rc.Profile().ID()
	if q.Scope != policy.ScopeSubject {
		return tenantID
	}
	subject, ok := pipeline.Get(rc.Extensions(), authn.SubjectKey)
	if !ok || subject == "" {
		p.logger.Warn("subject-scoped quota without authenticated subject, charging tenant",
			zap.String("tenant_id", tenantID))
		return tenantID
	}
	return tenantID + ":" + subject
}

// provision makes sure the ledger holds a record matching the tenant policy
func (p *Plugin) provision(ctx context.Context, principal string, q policy.QuotaPolicy) error {
	prov, ok := p.ledger.(ledgerpkg.Provisioner)
	if !ok {
		return nil
	}
	want := provisionKey{total: q.Total, period: q.Period}
	if have, ok := p.provisioned.Load(principal); ok && have.(provisionKey) == want {
		return nil
	}
	if err := prov.Ensure(ctx, principal, q.Total, q.Period); err != nil {
		return err
	}
	p.provisioned.Store(principal, want)
	return nil
}

func (p *Plugin) amount(req pipeline.RequestEnvelope, q policy.QuotaPolicy) (int64, error) {
	if q.Strategy != policy.StrategyTokens {
		return q.UnitsPerRequest, nil
	}

	ids, _, err := p.codec.Encode(req.Prompt)
	if err != nil {
		return 0, err
	}
	amount := int64(len(ids)) + maxTokens(req.Parameters, q.DefaultMaxTokens, q.Total)
	if amount <= 0 {
		amount = 1
	}
	return amount, nil
}

// maxTokens reads the requested completion budget, clamped to [0, limit]
// so a hostile value cannot overflow or shrink the reservation
func maxTokens(params map[string]any, def, limit int64) int64 {
	n := def
	switch v := params["max_tokens"].(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		switch {
		case math.IsNaN(v) || v >= float64(limit):
			n = limit
		case v <= 0:
			n = 0
		default:
			n = int64(v)
		}
	case string:
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			n = parsed
		} else if errors.Is(err, strconv.ErrRange) {
			n = limit
		}
	}
	return min(max(n, 0), limit)
}
