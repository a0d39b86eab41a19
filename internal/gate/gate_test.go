package gate

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/autotrader/internal/filter"
	"github.com/betbot/autotrader/internal/intent"
)

type stubEvaluator struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubEvaluator) Evaluate(context.Context, filter.AutoTradeFilter, string) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func trade(force bool) *intent.TradeRequest {
	return &intent.TradeRequest{Token: "PEPE", Side: "buy", Size: 1, Force: &force}
}

func TestDecide(t *testing.T) {
	boom := errors.New("ta down")

	tests := []struct {
		name      string
		hasFilter bool
		allowed   bool
		evalErr   error
		force     bool
		dryRun    bool
		want      Decision
		wantErr   error
		wantCalls int
	}{
		{name: "no filter, live", want: Proceed},
		{name: "no filter, dry run", dryRun: true, want: SkipDryRun},
		{name: "filter allows", hasFilter: true, allowed: true, want: Proceed, wantCalls: 1},
		{name: "filter blocks", hasFilter: true, allowed: false, want: SkipBlocked, wantCalls: 1},
		{name: "filter blocks before dry run", hasFilter: true, dryRun: true, want: SkipBlocked, wantCalls: 1},
		{name: "force bypasses filter", hasFilter: true, force: true, want: Proceed},
		{name: "force does not bypass dry run", hasFilter: true, force: true, dryRun: true, want: SkipDryRun},
		{name: "evaluation error propagates", hasFilter: true, evalErr: boom, wantErr: boom, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := filter.NewRegistry(nil)
			if tt.hasFilter {
				require.NoError(t, reg.Set("p1", filter.AutoTradeFilter{Expression: "rsi<30", Interval: "5m"}))
			}
			ev := &stubEvaluator{allowed: tt.allowed, err: tt.evalErr}
			g := New(reg, ev)

			got, err := g.Decide(context.Background(), trade(tt.force), "p1", tt.dryRun)
			assert.Equal(t, tt.wantCalls, ev.calls)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_FilterIsPerPrincipal(t *testing.T) {
	reg := filter.NewRegistry(nil)
	require.NoError(t, reg.Set("p1", filter.AutoTradeFilter{Expression: "rsi<30", Interval: "5m"}))
	ev := &stubEvaluator{allowed: false}

	got, err := New(reg, ev).Decide(context.Background(), trade(false), "p2", false)
	require.NoError(t, err)
	assert.Equal(t, Proceed, got)
	assert.Zero(t, ev.calls)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "proceed", Proceed.String())
	assert.Equal(t, "skip_blocked", SkipBlocked.String())
	assert.Equal(t, "skip_dry_run", SkipDryRun.String())
}
