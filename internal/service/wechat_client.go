package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const wechatOpenBase = "https://open.weixin.qq.com"

// wechatResponse 微信接口公共返回
type wechatResponse struct {
	OpenID     string `json:"openid"`
	UnionID    string `json:"unionid"`
	SessionKey string `json:"session_key"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

// WeappClient 小程序登录凭证校验
type WeappClient struct {
	logger *zap.Logger
	cfg    config.WeappConfig
	client *http.Client
}

func NewWeappClient(logger *zap.Logger, cfg config.WeappConfig) *WeappClient {
	return &WeappClient{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Code2Session 用 wx.login 返回的 code 换取 openid/unionid
func (c *WeappClient) Code2Session(ctx context.Context, jsCode string) (*models.ExternalIdentity, error) {
	jsCode = strings.TrimSpace(jsCode)
	if jsCode == "" {
		return nil, ErrInvalidParams
	}
	q := url.Values{}
	q.Set("appid", c.cfg.AppID)
	q.Set("secret", c.cfg.AppSecret)
	q.Set("js_code", jsCode)
	q.Set("grant_type", "authorization_code")

	resp, err := getWechat(ctx, c.client, strings.TrimRight(c.cfg.APIBase, "/")+"/sns/jscode2session?"+q.Encode())
	if err != nil {
		c.logger.Error("小程序登录凭证校验失败", zap.Error(err))
		return nil, ErrExternal
	}
	if resp.ErrCode != 0 || resp.OpenID == "" {
		c.logger.Warn("小程序登录凭证无效",
			zap.Int("errcode", resp.ErrCode),
			zap.String("errmsg", resp.ErrMsg))
		return nil, ErrExternal
	}
	return &models.ExternalIdentity{OpenID: resp.OpenID, UnionID: resp.UnionID}, nil
}

// WechatOAuthClient 微信开放平台网页授权
type WechatOAuthClient struct {
	logger  *zap.Logger
	cfg     config.WechatOAuthConfig
	apiBase string
	oauth   *oauth2.Config
	client  *http.Client
}

func NewWechatOAuthClient(logger *zap.Logger, cfg config.WechatOAuthConfig, apiBase string) *WechatOAuthClient {
	return &WechatOAuthClient{
		logger:  logger,
		cfg:     cfg,
		apiBase: strings.TrimRight(apiBase, "/"),
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"snsapi_login"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  wechatOpenBase + "/connect/qrconnect",
				TokenURL: strings.TrimRight(apiBase, "/") + "/sns/oauth2/access_token",
			},
		},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthURL 网页扫码授权地址
func (c *WechatOAuthClient) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("appid", c.cfg.AppID)) + "#wechat_redirect"
}

// Exchange 用授权 code 换取 openid/unionid
//
// 微信的 token 接口参数名与标准 OAuth2 不同（appid/secret），因此直接请求。
func (c *WechatOAuthClient) Exchange(ctx context.Context, code string) (*models.ExternalIdentity, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidParams
	}
	q := url.Values{}
	q.Set("appid", c.cfg.AppID)
	q.Set("secret", c.cfg.AppSecret)
	q.Set("code", code)
	q.Set("grant_type", "authorization_code")

	resp, err := getWechat(ctx, c.client, c.oauth.Endpoint.TokenURL+"?"+q.Encode())
	if err != nil {
		c.logger.Error("微信授权换取身份失败", zap.Error(err))
		return nil, ErrExternal
	}
	if resp.ErrCode != 0 || resp.OpenID == "" {
		c.logger.Warn("微信授权 code 无效",
			zap.Int("errcode", resp.ErrCode),
			zap.String("errmsg", resp.ErrMsg))
		return nil, ErrExternal
	}
	return &models.ExternalIdentity{OpenID: resp.OpenID, UnionID: resp.UnionID}, nil
}

func getWechat(ctx context.Context, client *http.Client, rawURL string) (*wechatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("请求失败，状态码: %d", resp.StatusCode)
	}

	// 微信接口常以 text/plain 返回 JSON
	var result wechatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &result, nil
}
