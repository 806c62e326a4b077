package quota

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
)

func TestInstrumented(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics()
	l := WithMetrics(NewMemoryLedger(zap.NewNop(), nil), metrics)

	require.NoError(t, l.Ensure(ctx, "acme", 1, models.QuotaPeriodNone))
	require.NoError(t, l.Reserve(ctx, "acme", 1))
	assert.ErrorIs(t, l.Reserve(ctx, "acme", 1), ErrQuotaExceeded)
	require.NoError(t, l.Confirm(ctx, "acme", 1))
	assert.ErrorIs(t, l.Release(ctx, "acme", 1), ErrNoReservation)

	count, err := testutil.GatherAndCount(metrics.Registry(), "quota_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
