package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/costcontrol"
	"github.com/compresr/apibouncer/internal/session"
)

func TestQuery_BudgetRemaining(t *testing.T) {
	e, _ := newTestEngine(t)
	limited := createSession(t, e, func(p *session.Policy) {
		allowDalle(p)
		p.BudgetLimit = 2
	})
	unlimited := createSession(t, e, allowDalle)
	recordSuccess(t, e, limited.ID, 0.5)

	b, err := e.Query().BudgetRemaining(limited.ID)
	require.NoError(t, err)
	assert.False(t, b.Unlimited)
	assert.InDelta(t, 1.5, b.Remaining, 1e-9)
	assert.InDelta(t, 25, b.PercentUsed, 1e-9)

	b, err = e.Query().BudgetRemaining(unlimited.ID)
	require.NoError(t, err)
	assert.True(t, b.Unlimited)

	_, err = e.Query().BudgetRemaining("missing")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestQuery_HistoryNewestFirstWithPreview(t *testing.T) {
	e, clock := newTestEngine(t)
	s := createSession(t, e, allowDalle)
	ctx := context.Background()

	long := strings.Repeat("p", 150)
	_, err := e.Record(ctx, Outcome{SessionID: s.ID, Succeeded: true, Reason: "first"})
	require.NoError(t, err)
	clock.Advance(1)
	_, err = e.Record(ctx, Outcome{
		SessionID: s.ID, Succeeded: true, Reason: "second",
		Request: map[string]any{"prompt": long, "size": "1024x1024"},
	})
	require.NoError(t, err)

	h := e.Query().History(s.ID, 10)
	require.Len(t, h, 2)
	assert.Equal(t, "second", h[0].Reason)
	assert.Len(t, []rune(h[0].PromptPreview), config.HistoryPromptPreviewLen+3)
	assert.True(t, strings.HasSuffix(h[0].PromptPreview, "..."))

	assert.Len(t, e.Query().RecentHistory(1), 1)
}

func TestQuery_Stats(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := createSession(t, e, allowDalle)
	b := createSession(t, e, nil)
	c := createSession(t, e, allowDalle)

	recordSuccess(t, e, a.ID, 1.25)
	authorize(t, e, dalle(b.ID, 0.75)) // denied: no models allowed
	_, err := e.BanSession(ctx, c.ID, "")
	require.NoError(t, err)

	st := e.Query().Stats()
	assert.Equal(t, 3, st.TotalSessions)
	assert.Equal(t, 2, st.ActiveSessions)
	assert.Equal(t, 1, st.BannedSessions)
	assert.Equal(t, 2, st.TotalRequests)
	assert.InDelta(t, 50, st.BlockRate, 1e-9)
	assert.InDelta(t, 1.25, st.TotalSpent, 1e-9)
	assert.InDelta(t, 0.75, st.TotalSaved, 1e-9)

	info, err := e.Query().SessionInfo(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Manual ban", info.BanReason)
}

func TestQuery_Prices(t *testing.T) {
	e, _ := newTestEngine(t)
	q := e.Query()

	assert.InDelta(t, costcontrol.FallbackPrice, q.Price("nobody", "nothing", ""), 1e-9)

	_, err := e.UpdateSettings(context.Background(), func(st *config.Settings) {
		st.Prices = costcontrol.PriceTable{"acme": {"rocket": {Flat: 3}}}
	})
	require.NoError(t, err)
	assert.InDelta(t, 3, q.Price("acme", "rocket", ""), 1e-9)
	assert.Contains(t, q.Prices(), "acme")
	assert.Contains(t, q.Prices(), "openai")
}

func TestAdmin_ResetUnbanDeleteClear(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s := createSession(t, e, nil)

	for i := 0; i < 10; i++ {
		authorize(t, e, dalle(s.ID, 0.1))
	}
	info, _ := e.Query().SessionInfo(s.ID)
	require.Equal(t, session.StatusBanned, info.Status)

	got, err := e.UnbanSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.Empty(t, got.BanReason)
	assert.Zero(t, got.WarningCount)
	assert.Equal(t, 10, got.BlockedRequests)

	got, err = e.ResetSessionStats(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, got.BlockedRequests)
	assert.Zero(t, got.BlockedCost)

	n, err := e.ClearSessionHistory(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Empty(t, e.Query().History(s.ID, 0))

	require.NoError(t, e.DeleteSession(ctx, s.ID))
	assert.ErrorIs(t, e.DeleteSession(ctx, s.ID), ErrUnknownSession)
	_, err = e.BanSession(ctx, s.ID, "")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestAdmin_WarnNeverLiftsBan(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s := createSession(t, e, allowDalle)

	got, err := e.WarnSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWarned, got.Status)
	assert.Equal(t, 1, got.WarningCount)

	_, err = e.BanSession(ctx, s.ID, "abuse")
	require.NoError(t, err)

	got, err = e.WarnSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionBanned)
	assert.Equal(t, session.StatusBanned, got.Status)
	assert.Equal(t, "abuse", got.BanReason)
	assert.Equal(t, 1, got.WarningCount)

	d := authorize(t, e, dalle(s.ID, 0.04))
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err(), ErrSessionBanned)
}

func TestAdmin_UpdatePolicyNormalizes(t *testing.T) {
	e, _ := newTestEngine(t)
	s := createSession(t, e, nil)

	got, err := e.UpdatePolicy(context.Background(), s.ID, func(p *session.Policy) {
		p.RateLimitPeriod = 0
		p.BudgetLimit = -3
		p.AllowedModels = nil
	})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRateLimitPeriod, got.RateLimitPeriod)
	assert.Zero(t, got.BudgetLimit)
	assert.NotNil(t, got.AllowedModels)
}

func TestDenial_ErrorsIs(t *testing.T) {
	d := &Denial{Kind: KindRateLimited, Message: "slow down", RetryAfter: 3}
	var err error = d

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, "slow down", err.Error())

	got, ok := AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, 3, got.RetryAfter)
	assert.Equal(t, ErrRateLimited, KindRateLimited.Sentinel())
}
