package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuhao2004/kimochi/internal/models"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`log:
  level: error
database:
  enabled: true
  type: sqlite
  url: %s
server:
  addr: 127.0.0.1:0
app:
  jwt:
    secret: cli-secret
  cleanup:
    qrRetentionHours: 1
`, filepath.Join(dir, "kimochi.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// within 在限定时间内执行 fn，超时视为阻塞
func within(t *testing.T, name string, d time.Duration, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("%s error = %v", name, err)
		}
	case <-time.After(d):
		t.Fatalf("%s did not return within %s", name, d)
	}
}

func TestBootstrapLoadsSecrets(t *testing.T) {
	path := writeConfig(t)
	_, _, cfg, err := bootstrap(path)
	if err != nil {
		t.Fatalf("bootstrap() error = %v", err)
	}
	if cfg.JWT.Secret != "cli-secret" {
		t.Fatalf("jwt secret = %q", cfg.JWT.Secret)
	}
	if cfg.QRRetention() != time.Hour {
		t.Fatalf("qr retention = %v", cfg.QRRetention())
	}
}

func TestMigrateAndCleanupReturn(t *testing.T) {
	path := writeConfig(t)

	within(t, "migrate", 10*time.Second, func() error {
		return migrate(path)
	})

	db, _, _, err := bootstrap(path)
	if err != nil {
		t.Fatalf("bootstrap() error = %v", err)
	}
	now := time.Now()
	sessions := []models.QRLoginSession{
		{Nonce: "old", Flow: models.QRFlowLogin, Status: models.QRStatusPending, ExpiresAt: now.Add(-3 * time.Hour).UnixMilli()},
		{Nonce: "fresh", Flow: models.QRFlowLogin, Status: models.QRStatusPending, ExpiresAt: now.Add(time.Minute).UnixMilli()},
	}
	if err := db.Create(&sessions).Error; err != nil {
		t.Fatalf("create sessions: %v", err)
	}

	var deleted int64
	within(t, "cleanup", 10*time.Second, func() error {
		var err error
		deleted, err = cleanup(context.Background(), path)
		return err
	})
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}
