// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/devotion/internal/middleware"
	"github.com/hitoshi/devotion/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
	oauthStateTTL     = 10 * 60
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(state string) string
	CompleteLogin(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はログイン・ログアウト後に戻るフロントエンドのURL。
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int
}

// AuthHandler はGoogleログインのリダイレクトとセッションCookieを扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

type meResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Timezone string `json:"timezone"`
}

// Login はstateをCookieに保存してGoogleの同意画面へリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	state := hex.EncodeToString(b)

	http.SetCookie(w, h.cookie(oauthStateCookie, state, oauthStateTTL, false))
	http.Redirect(w, r, h.service.LoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はGoogleからの戻りを処理し、セッションCookieを設定してフロントエンドへ戻す。
// 利用者が同意を拒否した場合やログインに失敗した場合は、auth_errorクエリ付きでフロントエンドへ戻す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stateCookie, err := r.Cookie(oauthStateCookie)
	state := q.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.Bool("has_cookie", err == nil))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("state", "ログインの有効期限が切れたか、不正なリクエストです。"))
		return
	}
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1, false))

	if idpErr := q.Get("error"); idpErr != "" {
		slog.Info("oauth consent not granted", slog.String("error", idpErr))
		h.redirectWithError(w, r, "access_denied")
		return
	}

	code := q.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("code", "認可コードがありません。"))
		return
	}

	session, err := h.service.CompleteLogin(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, "login_failed")
		return
	}

	http.SetCookie(w, h.cookie(sessionCookieName, session.ID, h.config.SessionMaxAge, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してCookieを消す。破棄に失敗してもCookieは消す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if err := h.service.Logout(r.Context(), c.Value); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, h.cookie(sessionCookieName, "", -1, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me はログイン中のユーザーを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), c.Value)
	if err != nil {
		slog.Debug("current user not resolved", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Image:    user.Image,
		Phone:    user.Phone,
		Timezone: user.Timezone,
	})
}

// cookie はこのハンドラーが発行するCookieを作る。maxAgeが負ならCookieを消す。
// セッションCookieだけCookieDomainを付け、stateはコールバック先のホストに限定する。
func (h *AuthHandler) cookie(name, value string, maxAge int, withDomain bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if withDomain {
		c.Domain = h.config.CookieDomain
	}
	return c
}

func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, reason string) {
	target := h.config.BaseURL
	if u, err := url.Parse(target); err == nil {
		q := u.Query()
		q.Set("auth_error", reason)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
