package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// FamilyServiceInterface は家族アカウントハンドラーが必要とするサービスインターフェース。
type FamilyServiceInterface interface {
	AddMember(ctx context.Context, ownerID, name, email string) (*familyMemberResponse, error)
	ListMembers(ctx context.Context, ownerID string) ([]familyMemberResponse, error)
	RemoveMember(ctx context.Context, ownerID, memberUserID string) error
}

// FamilyHandler は家族アカウントのHTTPハンドラー。
type FamilyHandler struct {
	service FamilyServiceInterface
}

// NewFamilyHandler はFamilyHandlerを生成する。
func NewFamilyHandler(service FamilyServiceInterface) *FamilyHandler {
	return &FamilyHandler{service: service}
}

type addFamilyMemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// familyMemberResponse は家族メンバーのAPIレスポンス。
type familyMemberResponse struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListMembers は家族メンバー一覧を返す。
// GET /api/family/members
func (h *FamilyHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// AddMember は家族メンバーを追加する。
// POST /api/family/members
func (h *FamilyHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addFamilyMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	member, err := h.service.AddMember(r.Context(), userID, req.Name, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// RemoveMember は家族メンバーを削除する。
// DELETE /api/family/members/{userId}
func (h *FamilyHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), userID, chi.URLParam(r, "userId")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
