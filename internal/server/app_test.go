package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/logmanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/storetest"
	"github.com/dmitrijs2005/messagelog/internal/server/config"
	"github.com/dmitrijs2005/messagelog/internal/tsp/tsptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, tsaURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	gc, err := json.Marshal(map[string]any{
		"valid_until":                   time.Now().Add(time.Hour),
		"timestamping_interval_seconds": 60,
		"tsa_urls":                      []string{tsaURL},
	})
	require.NoError(t, err)
	gcPath := filepath.Join(dir, "globalconf.json")
	require.NoError(t, os.WriteFile(gcPath, gc, 0o600))

	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = storetest.DSN(dir)
	c.GlobalConfPath = gcPath
	c.ArchivePath = filepath.Join(dir, "archive")
	c.AdminAddr = "127.0.0.1:0"
	c.HashAlgorithm = "SHA-256"
	c.KeepRecordsFor = 0
	return c
}

func message(i int) logmanager.LogMessage {
	h := sha256.Sum256([]byte(fmt.Sprintf("sig-%d", i)))
	return logmanager.LogMessage{
		QueryID:       fmt.Sprintf("q-%d", i),
		Message:       "<soap/>",
		Signature:     []byte("signature"),
		SignatureHash: base64.StdEncoding.EncodeToString(h[:]),
		MemberClass:   "GOV",
		MemberCode:    "1234",
		SubsystemCode: "sub",
	}
}

func TestApp_LogTimestampArchiveClean(t *testing.T) {
	ctx := context.Background()
	tsa := tsptest.NewServer()
	t.Cleanup(tsa.Close)

	cfg := testConfig(t, tsa.URL)
	app, err := NewApp(ctx, cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.db.Close() })

	for i := 0; i < 3; i++ {
		_, err := app.Manager().Log(ctx, message(i))
		require.NoError(t, err)
	}

	n, err := app.Manager().TimestampPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, tsa.Requests())

	app.runArchiver(ctx)

	entries, err := os.ReadDir(cfg.ArchivePath)
	require.NoError(t, err)
	var zips int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".zip") {
			zips++
		}
	}
	assert.Equal(t, 1, zips)

	time.Sleep(5 * time.Millisecond)
	app.runCleaner(ctx)

	var left int
	require.NoError(t, app.db.QueryRow("SELECT COUNT(*) FROM logrecord").Scan(&left))
	assert.Zero(t, left)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.ArchiveGrouping = "owner"

	_, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, "grouping")
}

func TestNewApp_MissingKeyring(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.ArchiveEncryptionEnabled = true
	cfg.ArchiveKeyringPath = filepath.Join(t.TempDir(), "missing.asc")
	cfg.ArchiveDefaultKeyID = "ABCD"

	_, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, "archive keyring")
}

func TestApp_BadCronExpression(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.CleanInterval = "every now and then"

	app, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)

	err = app.Run(context.Background())
	assert.ErrorContains(t, err, "clean interval")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	app, err := NewApp(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}
