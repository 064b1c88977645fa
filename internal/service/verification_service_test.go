package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xuhao2004/kimochi/internal/models"
)

func TestVerification_IssueThenConsumeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("483920")

	code, err := env.verification.Issue(ctx, IssueRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposePasswordReset,
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if code != "483920" {
		t.Fatalf("Issue() code = %s", code)
	}

	// 数据库只保存哈希
	var stored models.VerificationCode
	if err := env.db.First(&stored).Error; err != nil {
		t.Fatalf("load code: %v", err)
	}
	if strings.Contains(stored.CodeHash, code) || stored.CodeHash == "" {
		t.Fatalf("code stored in plaintext: %q", stored.CodeHash)
	}

	env.clock.Advance(3 * time.Minute)
	ok, err := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposePasswordReset, "483920")
	if err != nil || !ok {
		t.Fatalf("first verify = %v, %v; want true", ok, err)
	}

	ok, err = env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposePasswordReset, "483920")
	if err != nil || ok {
		t.Fatalf("replay verify = %v, %v; want false", ok, err)
	}
}

func TestVerification_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("111222")

	if _, err := env.verification.Issue(ctx, IssueRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposePasswordReset,
	}); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	env.clock.Advance(11 * time.Minute)
	ok, err := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposePasswordReset, "111222")
	if err != nil || ok {
		t.Fatalf("expired verify = %v, %v; want false", ok, err)
	}
}

func TestVerification_ExactExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("111222")

	if _, err := env.verification.Issue(ctx, IssueRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposePasswordReset,
		TTL:     time.Minute,
	}); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	env.clock.Advance(time.Minute)
	ok, _ := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposePasswordReset, "111222")
	if ok {
		t.Fatal("code should be invalid at exactly expiresAt")
	}
}

func TestVerification_PurposeAndContactScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("123456")

	if _, err := env.verification.Issue(ctx, IssueRequest{
		Contact: "A@X.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposeEmailUnbind,
	}); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if ok, _ := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposePasswordReset, "123456"); ok {
		t.Fatal("code accepted for another purpose")
	}
	if ok, _ := env.verification.VerifyAndConsume(ctx, "b@x.com", models.PurposeEmailUnbind, "123456"); ok {
		t.Fatal("code accepted for another contact")
	}
	if ok, _ := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposeEmailUnbind, "654321"); ok {
		t.Fatal("wrong code accepted")
	}
	// 联系方式大小写不敏感
	if ok, err := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposeEmailUnbind, "123456"); !ok || err != nil {
		t.Fatalf("verify = %v, %v; want true", ok, err)
	}
}

func TestVerification_NewCodeSupersedesOld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("111111", "222222")

	req := IssueRequest{Contact: "a@x.com", Channel: models.ChannelEmail, Purpose: models.PurposeEmailLogin}
	if _, err := env.verification.Issue(ctx, req); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	env.clock.Advance(time.Second)
	if _, err := env.verification.Issue(ctx, req); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if ok, _ := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposeEmailLogin, "111111"); ok {
		t.Fatal("superseded code accepted")
	}
	if ok, _ := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposeEmailLogin, "222222"); !ok {
		t.Fatal("latest code rejected")
	}

	var superseded int64
	env.db.Model(&models.VerificationCode{}).Where("superseded = ?", true).Count(&superseded)
	if superseded != 1 {
		t.Fatalf("superseded rows = %d, want 1", superseded)
	}
	// 记录保留
	var total int64
	env.db.Model(&models.VerificationCode{}).Count(&total)
	if total != 2 {
		t.Fatalf("total rows = %d, want 2", total)
	}
}

func TestVerification_ConcurrentConsumeSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("999000")

	if _, err := env.verification.Issue(ctx, IssueRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposePasswordReset,
	}); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.verification.VerifyAndConsume(ctx, "a@x.com", models.PurposePasswordReset, "999000")
			if err != nil {
				t.Errorf("verify error: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestVerification_IssueRejectsUnknownPurpose(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.verification.Issue(context.Background(), IssueRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: "unknown",
	})
	assertErrorIs(t, err, ErrInvalidParams)
}

func TestVerification_SendDeliversByChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.codes.Push("135790", "246801")

	code, err := env.verification.Send(ctx, SendRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposeRegister,
	})
	if err != nil {
		t.Fatalf("Send(email) error = %v", err)
	}
	mails := env.mailer.SentTo("a@x.com")
	if len(mails) != 1 || !strings.Contains(mails[0].Body, code) {
		t.Fatalf("mails = %+v", mails)
	}

	code, err = env.verification.Send(ctx, SendRequest{
		Contact: "13800000000",
		Channel: models.ChannelPhone,
		Purpose: models.PurposeAccountChangeCancel,
	})
	if err != nil {
		t.Fatalf("Send(phone) error = %v", err)
	}
	if !strings.Contains(env.sms.sent["13800000000"], code) {
		t.Fatalf("sms = %q", env.sms.sent["13800000000"])
	}
}

func TestVerification_SendDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")

	_, err := env.verification.Send(context.Background(), SendRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposeRegister,
	})
	assertErrorIs(t, err, ErrExternal)
}

func TestVerification_SendRateLimited(t *testing.T) {
	env := newTestEnv(t)
	mr := env.withLimiter(t)
	ctx := context.Background()
	req := SendRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposeRegister,
	}

	// 参数不合法的请求不占用发送额度
	bad := req
	bad.Purpose = "unknown"
	_, err := env.verification.Send(ctx, bad)
	assertErrorIs(t, err, ErrInvalidParams)
	bad = req
	bad.Channel = "pigeon"
	_, err = env.verification.Send(ctx, bad)
	assertErrorIs(t, err, ErrInvalidParams)

	if _, err := env.verification.Send(ctx, req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_, err = env.verification.Send(ctx, req)
	assertErrorIs(t, err, ErrTooManyRequests)

	// 频控按用途区分
	other := req
	other.Purpose = models.PurposeEmailLogin
	if _, err := env.verification.Send(ctx, other); err != nil {
		t.Fatalf("Send(other purpose) error = %v", err)
	}

	mr.FastForward(61 * time.Second)
	if _, err := env.verification.Send(ctx, req); err != nil {
		t.Fatalf("Send() after cooldown error = %v", err)
	}
}

func TestVerification_SendDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.verification.enabled = false

	_, err := env.verification.Send(context.Background(), SendRequest{
		Contact: "a@x.com",
		Channel: models.ChannelEmail,
		Purpose: models.PurposeRegister,
	})
	assertErrorIs(t, err, ErrFeatureDisabled)
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(6)
		if err != nil {
			t.Fatalf("GenerateNumericCode() error = %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len = %d", len(code))
		}
		for _, ch := range code {
			if ch < '0' || ch > '9' {
				t.Fatalf("non-digit in %q", code)
			}
		}
	}
	if _, err := GenerateNumericCode(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
