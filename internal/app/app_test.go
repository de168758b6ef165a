package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbot/internal/config"
	"feedbot/internal/device"
	"feedbot/internal/feeding"
	"feedbot/internal/pellet"
	"feedbot/internal/reconcile"
	logx "feedbot/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "feedbot.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func hasInterval(a *App, name string) bool {
	for _, iv := range a.core.Scheduler.Snapshot().Intervals {
		if iv.Name == name {
			return true
		}
	}
	return false
}

func TestAppLifecycleWithoutTelegram(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"storage": {"path": "`+filepath.ToSlash(filepath.Join(dir, "feedbot.db"))+`"},
		"scheduler": {"timezone": "UTC", "resync_interval": "1m"},
		"access": {"admin_user_ids": [1], "user_ids": [2]}
	}`)

	a, err := NewApp(path)
	require.NoError(t, err)

	ctx := context.Background()
	// A schedule stored before Start is restored by the startup reconcile.
	sc, err := a.Core().Feeder.CreateSchedule(ctx, feeding.NewSchedule{
		Name: "breakfast", At: feeding.TimeOfDay{Hour: 7}, AmountGrams: 40, OwnerID: 2,
	})
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	assert.True(t, a.core.Scheduler.Has(sc.ID))
	assert.True(t, a.core.Scheduler.Snapshot().Running)
	assert.True(t, hasInterval(a, reconcile.ResyncJobName))

	res, err := a.Core().Feeder.ManualDispense(ctx, 30, 2)
	require.NoError(t, err)
	assert.True(t, res.OK())

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still open after Stop")
	}
}

func TestApplyConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"logging": {"level": "error"},
		"storage": {"path": "`+filepath.ToSlash(filepath.Join(dir, "feedbot.db"))+`"},
		"scheduler": {"timezone": "UTC"},
		"access": {"admin_user_ids": [1]}
	}`)
	a, err := NewApp(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	ctx := context.Background()
	old := a.cfgm.Get()
	a.installResync(old)
	require.True(t, hasInterval(a, reconcile.ResyncJobName))
	assert.True(t, a.core.Auth.IsUser(42), "empty user list admits everyone")

	next := *old
	next.Access = config.AccessConfig{AdminUserIDs: []int64{1}, UserIDs: []int64{2}}
	next.Feeding = config.FeedingConfig{MinGrams: 10, MaxGrams: 60}
	next.Scheduler.ResyncInterval = "0s"
	next.Scheduler.Timezone = "Asia/Jakarta"
	a.applyConfig(ctx, old, &next)

	assert.False(t, a.core.Auth.IsUser(42))
	assert.True(t, a.core.Auth.IsUser(2))
	assert.False(t, hasInterval(a, reconcile.ResyncJobName))
	assert.Equal(t, "Asia/Jakarta", a.core.Scheduler.Location().String())

	_, err = a.core.Feeder.ManualDispense(ctx, 100, 2)
	require.ErrorIs(t, err, feeding.ErrInvalidAmount)
	_, err = a.core.Feeder.ManualDispense(ctx, 15, 2)
	require.NoError(t, err)
}

func TestConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.TaskEngine.DefaultTimeout = "45s"
	eng, err := mapTaskEngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, eng.Enabled)
	assert.Equal(t, 45*time.Second, eng.DefaultTimeout)

	cfg.TaskEngine.Workers = -1
	_, err = mapTaskEngineConfig(cfg)
	require.Error(t, err)

	sc := mapSchedulerConfig(cfg, time.Second)
	assert.True(t, sc.Enabled, "scheduler defaults to enabled")

	cfg.Notifier.Enabled = true
	ncfg, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.False(t, ncfg.Enabled, "alerts need telegram")
	assert.Equal(t, config.DefaultDedupWindow, ncfg.DedupWindow)

	assert.Equal(t, config.DefaultOpsAddr, mapOpsConfig(cfg).Addr)

	cfg.Logging.Telegram.Enabled = true
	assert.False(t, mapLogConfig(cfg).Telegram.Enabled)
}

func TestDriversFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	gw, err := newGateway(cfg, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &device.Simulated{}, gw)

	cfg.Device = config.DeviceConfig{Driver: "http", URL: "http://feeder.local/dispense", Timeout: "3s"}
	gw, err = newGateway(cfg, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &device.HTTP{}, gw)

	cfg.Device = config.DeviceConfig{Driver: "serial"}
	_, err = newGateway(cfg, logx.Nop())
	require.Error(t, err)

	c, err := newCounter(cfg, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, pellet.Disabled{}, c)

	cfg.Pellet = config.PelletConfig{URL: "http://vision.local/count"}
	c, err = newCounter(cfg, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &pellet.HTTP{}, c)
}

func TestTelegramNeedsRestart(t *testing.T) {
	base := config.TelegramConfig{Enabled: true, Token: "t", CommandsPerMinute: 20}

	rate := base
	rate.CommandsPerMinute = 5
	assert.False(t, telegramNeedsRestart(base, rate))

	token := base
	token.Token = "other"
	assert.True(t, telegramNeedsRestart(base, token))
}
