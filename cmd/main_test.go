package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/apibouncer/internal/barrier"
	"github.com/compresr/apibouncer/internal/bouncer"
	"github.com/compresr/apibouncer/internal/config"
	"github.com/compresr/apibouncer/internal/policy"
	"github.com/compresr/apibouncer/internal/session"
)

func newCLIBouncer(t *testing.T) *bouncer.Bouncer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Audit.Enabled = false
	cfg.Audit.Path = filepath.Join(dir, config.AuditFileName)
	b, err := bouncer.New(cfg, bouncer.WithVaultFingerprint("cli-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func onlySession(t *testing.T, b *bouncer.Bouncer) policy.SessionInfo {
	t.Helper()
	sessions := b.Query().Sessions()
	require.Len(t, sessions, 1)
	return sessions[0]
}

func TestParsePolicyFlags(t *testing.T) {
	apply, pos, err := parsePolicyFlags([]string{
		"my", "project",
		"--models", "dall-e-3, gpt-image*",
		"--budget", "2.5",
		"--rate", "10", "--period", "60",
		"--any-model",
		"--keys", "openai",
		"--barrier", "on",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"my", "project"}, pos)

	p := session.DefaultPolicy()
	apply(&p)
	assert.Equal(t, []string{"dall-e-3", "gpt-image*"}, p.AllowedModels)
	assert.Equal(t, 2.5, p.BudgetLimit)
	assert.Equal(t, 10, p.RateLimit)
	assert.Equal(t, 60, p.RateLimitPeriod)
	assert.False(t, p.RequireModelWhitelist)
	assert.Equal(t, []string{"openai"}, p.AllowedKeys)
	require.NotNil(t, p.BarrierMode)
	assert.True(t, *p.BarrierMode)
}

func TestParsePolicyFlags_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"--budget"},
		{"--budget", "-1"},
		{"--rate", "x"},
		{"--period", "0"},
		{"--barrier", "maybe"},
		{"--colour", "red"},
	} {
		_, _, err := parsePolicyFlags(args)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestParsePrice(t *testing.T) {
	p, err := parsePrice("0.04")
	require.NoError(t, err)
	assert.Equal(t, 0.04, p.Flat)
	assert.Nil(t, p.ByQuality)

	p, err = parsePrice("Standard=0.04,hd=0.08")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"standard": 0.04, "hd": 0.08}, p.ByQuality)

	for _, bad := range []string{"-1", "hd", "hd=x", ""} {
		_, err := parsePrice(bad)
		assert.Error(t, err, bad)
	}
}

func TestSessionCommands(t *testing.T) {
	b := newCLIBouncer(t)

	require.NoError(t, runSessionCommand(b, []string{"create", "demo", "--models", "dall-e-3", "--budget", "1"}))
	s := onlySession(t, b)
	assert.Equal(t, "demo", s.Name)
	assert.Equal(t, 1.0, s.BudgetLimit)

	require.NoError(t, runSessionCommand(b, []string{"policy", s.ID, "--budget", "3"}))
	require.NoError(t, runSessionCommand(b, []string{"ban", s.ID, "too", "expensive"}))
	s = onlySession(t, b)
	assert.Equal(t, 3.0, s.BudgetLimit)
	assert.Equal(t, session.StatusBanned, s.Status)
	assert.Equal(t, "too expensive", s.BanReason)

	require.NoError(t, runSessionCommand(b, []string{"unban", s.ID}))
	assert.Equal(t, session.StatusActive, onlySession(t, b).Status)

	require.NoError(t, runSessionCommand(b, []string{"list"}))
	require.NoError(t, runSessionCommand(b, []string{"show", s.ID}))

	require.NoError(t, runSessionCommand(b, []string{"delete", s.ID}))
	assert.Empty(t, b.Query().Sessions())

	assert.ErrorIs(t, runSessionCommand(b, []string{"show"}), errUsage)
	assert.ErrorIs(t, runSessionCommand(b, []string{"show", "APBN-NONE-000000000000"}), policy.ErrUnknownSession)
	assert.ErrorIs(t, runSessionCommand(b, []string{"explode"}), errUsage)
}

func TestPanicAndSettingsCommands(t *testing.T) {
	b := newCLIBouncer(t)

	require.NoError(t, runPanicCommand(b, []string{"on"}))
	assert.True(t, b.Settings().PanicMode())
	require.NoError(t, runPanicCommand(b, []string{"off"}))
	assert.False(t, b.Settings().PanicMode())
	assert.ErrorIs(t, runPanicCommand(b, []string{"sideways"}), errUsage)

	require.NoError(t, runSettingsCommand(b, []string{"set", "auto_ban_threshold", "3"}))
	require.NoError(t, runSettingsCommand(b, []string{"set", "global_banned_models", "sora-2,veo-3"}))
	require.NoError(t, runSettingsCommand(b, []string{"price", "OpenAI", "dall-e-3", "0.5"}))
	st := b.Settings().Reload()
	assert.Equal(t, 3, st.AutoBanThreshold)
	assert.Equal(t, []string{"sora-2", "veo-3"}, st.GlobalBannedModels)
	assert.InDelta(t, 0.5, b.Query().Price("openai", "dall-e-3", ""), 1e-9)

	require.NoError(t, runSettingsCommand(b, []string{"unprice", "openai", "dall-e-3"}))
	assert.Empty(t, b.Settings().Reload().Prices)

	assert.Error(t, runSettingsCommand(b, []string{"set", "max_history", "0"}))
	assert.Error(t, runSettingsCommand(b, []string{"set", "colour", "1"}))
	require.NoError(t, runSettingsCommand(b, []string{"show"}))
}

func TestBarrierCommands(t *testing.T) {
	b := newCLIBouncer(t)
	ctx := context.Background()

	id, err := b.Queue().Submit(ctx, barrier.NewRequest("APBN-AAAA-000000000000", "demo", "openai", "dall-e-3", 0.04, nil, time.Now()))
	require.NoError(t, err)

	require.NoError(t, runBarrierCommand(b, []string{"list"}))
	require.NoError(t, runBarrierCommand(b, []string{"approve", id}))
	state, err := b.Queue().Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, barrier.StateApproved, state)

	assert.Error(t, runBarrierCommand(b, []string{"deny", id}), "first decision wins")

	_, err = b.Queue().Submit(ctx, barrier.NewRequest("APBN-AAAA-000000000000", "demo", "openai", "dall-e-3", 0.04, nil, time.Now()))
	require.NoError(t, err)
	require.NoError(t, runBarrierCommand(b, []string{"deny", "--all"}))
	pending, err := b.Queue().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, runBarrierCommand(b, []string{"purge"}))
	require.NoError(t, runBarrierCommand(b, []string{"mode", "on"}))
	assert.True(t, b.Settings().BarrierMode())
}

func TestUnseenTickets_PrunesDecided(t *testing.T) {
	seen := map[string]bool{}
	a := barrier.Request{ID: "a"}
	b := barrier.Request{ID: "b"}
	c := barrier.Request{ID: "c"}

	assert.Equal(t, []barrier.Request{a, b}, unseenTickets(seen, []barrier.Request{a, b}))
	assert.Empty(t, unseenTickets(seen, []barrier.Request{a, b}))

	assert.Equal(t, []barrier.Request{c}, unseenTickets(seen, []barrier.Request{b, c}))
	assert.Equal(t, map[string]bool{"b": true, "c": true}, seen)

	assert.Empty(t, unseenTickets(seen, nil))
	assert.Empty(t, seen)
}

func TestVaultCommands(t *testing.T) {
	b := newCLIBouncer(t)
	v, err := b.Vault()
	require.NoError(t, err)
	require.NoError(t, v.SetKey("openai", "sk-cli-test-key"))

	require.NoError(t, runVaultCommand(b, []string{"list"}))
	require.NoError(t, runVaultCommand(b, []string{"has", "openai"}))
	assert.Error(t, runVaultCommand(b, []string{"has", "fal"}))
	require.NoError(t, runVaultCommand(b, []string{"delete", "openai"}))
	assert.False(t, v.HasKey("openai"))
}

func TestServeMux(t *testing.T) {
	b := newCLIBouncer(t)
	require.NoError(t, runSessionCommand(b, []string{"create", "web"}))
	s := onlySession(t, b)

	mux := newServeMux(b, true)
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "web")

	rec = get("/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats policy.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalSessions)

	assert.Equal(t, http.StatusOK, get("/api/sessions/"+s.ID).Code)
	assert.Equal(t, http.StatusNotFound, get("/api/sessions/APBN-NONE-000000000000").Code)
	assert.Equal(t, http.StatusOK, get("/api/history?limit=5").Code)
	assert.Equal(t, http.StatusOK, get("/api/barrier").Code)

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apibouncer_")
}

func TestStartMaintenance_InvalidSchedule(t *testing.T) {
	b := newCLIBouncer(t)
	b.Config().Barrier.PurgeSchedule = "every now and then"
	_, err := startMaintenance(b)
	assert.Error(t, err)
}
