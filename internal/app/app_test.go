package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"magpipeline/internal/config"
	"magpipeline/internal/model"
	"magpipeline/internal/store"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	for _, key := range []string{"EMAIL_USER", "EMAIL_PASS", "AUTHORIZED_EMAILS", "ADMIN_EMAILS", "REDIS_URL", "MAGPIPELINE_DATA_DIR", "MAGPIPELINE_TEMPLATE_PATH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	cfg.Mail.AuthorizedEmails = []string{"alice@example.com"}
	cfg.Mail.AdminEmails = []string{"admin@example.com"}
	cfg.Protocol.StateBackend = "memory"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_DrainsInboxToOutbox(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	_, err = a.Spool.Enqueue(model.InboundMessage{From: "alice@example.com", Subject: "Help"})
	require.NoError(t, err)

	n, err := a.drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	outbox, err := os.ReadDir(filepath.Join(cfg.DataDir(), "outbox"))
	require.NoError(t, err)
	require.Len(t, outbox, 1)

	count, err := a.Store.GetConfigInt(context.Background(), store.ConfigMessagesProcessed)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNew_RedisStateBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Protocol.StateBackend = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	_, err = a.Spool.Enqueue(model.InboundMessage{From: "alice@example.com", Subject: "Adjust Columns"})
	require.NoError(t, err)
	_, err = a.drain(context.Background())
	require.NoError(t, err)

	state, err := a.Machine.State(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, model.StateAwaiting, state)
	require.NotEmpty(t, mr.Keys())
}

func TestNew_RedisUnavailableFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Protocol.StateBackend = "redis"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}
