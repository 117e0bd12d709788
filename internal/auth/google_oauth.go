package auth

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProviderGoogle はidentitiesテーブルに記録するGoogleのプロバイダー名。
const ProviderGoogle = "google"

const maxGoogleResponseSize = 1 << 20

// ErrEmailNotVerified はGoogleアカウントのメールアドレスが未確認であることを表す。
// デボーショナルの配信先になるため、未確認のアドレスではアカウントを作らない。
var ErrEmailNotVerified = errors.New("google account email is not verified")

// GoogleEndpoints はGoogle OAuthのエンドポイント。テストではhttptestのURLに差し替える。
type GoogleEndpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

var defaultGoogleEndpoints = GoogleEndpoints{
	AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:    "https://oauth2.googleapis.com/token",
	UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
}

// GoogleOAuthConfig はGoogleOAuthProviderの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoints  GoogleEndpoints
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogleのOpenID Connect（認可コードフロー）でユーザーを確認する。
type GoogleOAuthProvider struct {
	config    GoogleOAuthConfig
	endpoints GoogleEndpoints
	client    *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// 未指定のエンドポイントはGoogleの本番URLになる。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	ep := GoogleEndpoints{
		AuthURL:     cmp.Or(config.Endpoints.AuthURL, defaultGoogleEndpoints.AuthURL),
		TokenURL:    cmp.Or(config.Endpoints.TokenURL, defaultGoogleEndpoints.TokenURL),
		UserInfoURL: cmp.Or(config.Endpoints.UserInfoURL, defaultGoogleEndpoints.UserInfoURL),
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleOAuthProvider{config: config, endpoints: ep, client: client}
}

// AuthCodeURL は同意画面へのURLを返す。
func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.config.ClientID)
	q.Set("redirect_uri", p.config.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("prompt", "select_account")
	return p.endpoints.AuthURL + "?" + q.Encode()
}

type googleToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange は認可コードをアクセストークンに交換し、userinfoエンドポイントからユーザーを確認する。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	form.Set("redirect_uri", p.config.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token googleToken
	if err := p.doJSON(req, &token); err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token exchange: response has no access_token")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.endpoints.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var info googleUserInfo
	if err := p.doJSON(req, &info); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("userinfo: response has no sub")
	}
	if !info.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return &ExternalIdentity{
		Provider: ProviderGoogle,
		Subject:  info.Sub,
		Email:    strings.ToLower(info.Email),
		Name:     info.Name,
		Picture:  info.Picture,
	}, nil
}

// doJSON はリクエストを送り、2xxのボディをvに読み込む。
func (p *GoogleOAuthProvider) doJSON(req *http.Request, v any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGoogleResponseSize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ IdentityProvider = (*GoogleOAuthProvider)(nil)
