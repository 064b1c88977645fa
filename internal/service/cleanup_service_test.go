package service

import (
	"context"
	"testing"
	"time"

	"github.com/xuhao2004/kimochi/internal/models"
	"go.uber.org/zap"
)

func TestCleanup_SweepKeepsRecentAndCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cleanup := NewCleanupService(zap.NewNop(), env.db, 24*time.Hour)
	cleanup.now = env.clock.Now

	old, err := env.qr.Start(ctx, models.QRFlowLogin, "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := env.verification.Issue(ctx, IssueRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposeEmailLogin,
	}); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	env.clock.Advance(48 * time.Hour)
	recent, err := env.qr.Start(ctx, models.QRFlowLogin, "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deleted, err := cleanup.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	poll, _ := env.qr.Poll(ctx, old.Nonce)
	if poll.Status != PollNotFound {
		t.Fatalf("old session status = %s", poll.Status)
	}
	poll, _ = env.qr.Poll(ctx, recent.Nonce)
	if poll.Status != PollPending {
		t.Fatalf("recent session status = %s", poll.Status)
	}

	var codes int64
	env.db.Model(&models.VerificationCode{}).Count(&codes)
	if codes != 1 {
		t.Fatalf("verification codes = %d, want 1", codes)
	}
}
