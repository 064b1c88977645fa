package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/pkg/ratelimit"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// 内存库每个连接独立，固定单连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) SentTo(to string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

type fakeSMS struct {
	mu   sync.Mutex
	sent map[string]string
}

func (s *fakeSMS) Send(ctx context.Context, phone, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string]string)
	}
	s.sent[phone] = content
	return nil
}

// fakeWeapp 按 code 返回预设身份
type fakeWeapp struct {
	identities map[string]models.ExternalIdentity
}

func (f *fakeWeapp) Code2Session(ctx context.Context, jsCode string) (*models.ExternalIdentity, error) {
	identity, ok := f.identities[jsCode]
	if !ok {
		return nil, ErrExternal
	}
	return &identity, nil
}

// codeQueue 按顺序返回预设验证码，用尽后回退到随机生成
type codeQueue struct {
	mu    sync.Mutex
	codes []string
}

func (q *codeQueue) Next(length int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.codes) == 0 {
		return GenerateNumericCode(length)
	}
	code := q.codes[0]
	q.codes = q.codes[1:]
	return code, nil
}

func (q *codeQueue) Push(codes ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.codes = append(q.codes, codes...)
}

type testEnv struct {
	db           *gorm.DB
	clock        *testClock
	codes        *codeQueue
	mailer       *fakeMailer
	sms          *fakeSMS
	weapp        *fakeWeapp
	templates    *TemplateRenderer
	notifier     *Notifier
	verification *VerificationService
	tokens       *TokenService
	bindings     *BindingService
	qr           *QRLoginService
	changes      *AccountChangeService
	accounts     *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	db := newTestDB(t)
	clock := newTestClock()

	templates, err := NewTemplateRenderer(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}

	env := &testEnv{
		db:        db,
		clock:     clock,
		codes:     &codeQueue{},
		mailer:    &fakeMailer{},
		sms:       &fakeSMS{},
		weapp:     &fakeWeapp{identities: map[string]models.ExternalIdentity{}},
		templates: templates,
	}

	env.notifier = NewNotifier(log, env.mailer, templates, config.WebhookConfig{})
	env.notifier.minDelay = time.Millisecond
	env.notifier.maxDelay = time.Millisecond

	env.verification = NewVerificationService(log, db, nil, env.mailer, env.sms, templates,
		true, "test-pepper", 6, 10*time.Minute)
	env.verification.now = clock.Now
	env.verification.generate = env.codes.Next

	env.tokens = NewTokenService(log, db, "test-secret", 7*24*time.Hour)
	env.tokens.now = clock.Now

	env.bindings = NewBindingService(log, db, env.verification, env.weapp, nil)
	env.bindings.now = clock.Now

	env.qr = NewQRLoginService(log, db, env.tokens, env.bindings, env.weapp, 5*time.Minute)
	env.qr.now = clock.Now

	env.changes = NewAccountChangeService(log, db, env.verification, env.notifier)
	env.changes.now = clock.Now

	env.accounts = NewAccountService(log, db, env.tokens, env.verification, env.weapp)
	env.accounts.now = clock.Now
	return env
}

// withLimiter 为验证码发送接入 miniredis 频控：冷却一分钟，每小时 10 次
func (e *testEnv) withLimiter(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	e.verification.limiter = ratelimit.NewSendLimiter(rdb, "test", time.Minute, time.Hour, 10)
	return s
}

type userOption func(*models.User)

func withEmail(email string) userOption {
	return func(u *models.User) { u.Email = models.StringPtr(email) }
}

func withPhone(phone string) userOption {
	return func(u *models.User) { u.Phone = models.StringPtr(phone) }
}

func withWeapp(openID, unionID string) userOption {
	return func(u *models.User) {
		u.WeappOpenID = models.StringPtr(openID)
		u.WeappUnionID = models.StringPtr(unionID)
	}
}

func registeredVia(via string) userOption {
	return func(u *models.User) { u.RegisteredVia = via }
}

func (e *testEnv) createUser(t *testing.T, opts ...userOption) *models.User {
	t.Helper()
	now := e.clock.Now().UnixMilli()
	user := &models.User{
		ID:            uuid.NewString(),
		Nickname:      "tester",
		RegisteredVia: models.RegisteredViaEmail,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, opt := range opts {
		opt(user)
	}
	if err := e.db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	var user models.User
	if err := e.db.Where("id = ?", id).First(&user).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return &user
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, uuid.NewString()[:8])
}
