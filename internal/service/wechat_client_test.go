package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/xuhao2004/kimochi/internal/config"
	"go.uber.org/zap"
)

func TestWeappClient_Code2Session(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sns/jscode2session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"openid":"o-123","session_key":"sk","unionid":"u-456"}`))
	}))
	defer srv.Close()

	client := NewWeappClient(zap.NewNop(), config.WeappConfig{AppID: "wxapp", AppSecret: "secret", APIBase: srv.URL})
	identity, err := client.Code2Session(context.Background(), "js-code")
	if err != nil {
		t.Fatalf("Code2Session() error = %v", err)
	}
	if identity.OpenID != "o-123" || identity.UnionID != "u-456" {
		t.Errorf("Code2Session() = %+v", identity)
	}
	if gotQuery.Get("appid") != "wxapp" || gotQuery.Get("js_code") != "js-code" ||
		gotQuery.Get("grant_type") != "authorization_code" {
		t.Errorf("unexpected query %v", gotQuery)
	}
}

func TestWeappClient_ErrCodeIsExternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":40029,"errmsg":"invalid code"}`))
	}))
	defer srv.Close()

	client := NewWeappClient(zap.NewNop(), config.WeappConfig{APIBase: srv.URL})
	_, err := client.Code2Session(context.Background(), "bad")
	if !errors.Is(err, ErrExternal) {
		t.Fatalf("Code2Session() error = %v, want ErrExternal", err)
	}
}

func TestWeappClient_EmptyCode(t *testing.T) {
	client := NewWeappClient(zap.NewNop(), config.WeappConfig{APIBase: "http://127.0.0.1:1"})
	if _, err := client.Code2Session(context.Background(), " "); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("Code2Session() error = %v, want ErrInvalidParams", err)
	}
}

func TestWechatOAuthClient_AuthURLAndExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sns/oauth2/access_token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("code") != "auth-code" {
			t.Errorf("unexpected code %s", r.URL.Query().Get("code"))
		}
		_, _ = w.Write([]byte(`{"access_token":"at","openid":"wx-open","unionid":"wx-union"}`))
	}))
	defer srv.Close()

	client := NewWechatOAuthClient(zap.NewNop(), config.WechatOAuthConfig{
		AppID:       "wxweb",
		AppSecret:   "secret",
		RedirectURL: "https://kimochi.example.com/wechat/callback",
	}, srv.URL)

	authURL := client.AuthURL("state-1")
	if !strings.HasPrefix(authURL, "https://open.weixin.qq.com/connect/qrconnect?") {
		t.Errorf("AuthURL() = %s", authURL)
	}
	if !strings.HasSuffix(authURL, "#wechat_redirect") {
		t.Errorf("AuthURL() missing fragment: %s", authURL)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if parsed.Query().Get("appid") != "wxweb" || parsed.Query().Get("state") != "state-1" {
		t.Errorf("AuthURL() query = %v", parsed.Query())
	}

	identity, err := client.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if identity.OpenID != "wx-open" || identity.UnionID != "wx-union" {
		t.Errorf("Exchange() = %+v", identity)
	}
}
