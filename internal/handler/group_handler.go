package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/devotion/internal/group"
	"github.com/hitoshi/devotion/internal/model"
)

// GroupServiceInterface はグループハンドラーが必要とするサービスインターフェース。
// 権限判定はすべてサービス側で行う。
type GroupServiceInterface interface {
	CreateGroup(ctx context.Context, leaderID, name, description string) (*model.Group, error)
	ListGroups(ctx context.Context, userID string) ([]*model.Group, error)
	GetGroup(ctx context.Context, actorID, groupID string) (*group.Detail, error)
	CanSubscribe(ctx context.Context, actorID, groupID string) error
	Invite(ctx context.Context, actorID, groupID, email string, role model.MemberRole) (*model.GroupMember, error)
	Respond(ctx context.Context, actorID, groupID string, accept bool) (*model.GroupMember, error)
	Activate(ctx context.Context, actorID, groupID string) (*model.GroupMember, error)
	CreateNote(ctx context.Context, actorID, groupID string, in group.NoteInput) (*model.Note, error)
	ListNotes(ctx context.Context, actorID, groupID string, kind model.NoteKind) ([]group.Thread, error)
	DeleteNote(ctx context.Context, actorID, groupID, noteID string) error
	AddReply(ctx context.Context, actorID, groupID, noteID, content string) (*model.NoteReply, error)
}

// GroupSubscriber はWebSocket接続をグループの購読者として登録する。hub.Hubが満たす。
type GroupSubscriber interface {
	Serve(w http.ResponseWriter, r *http.Request, groupID, userID string) error
}

// GroupHandler はグループ、メンバーシップ、ノート、祈りの課題のHTTPハンドラー。
type GroupHandler struct {
	service    GroupServiceInterface
	subscriber GroupSubscriber
}

// NewGroupHandler はGroupHandlerを生成する。
func NewGroupHandler(service GroupServiceInterface, subscriber GroupSubscriber) *GroupHandler {
	return &GroupHandler{
		service:    service,
		subscriber: subscriber,
	}
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type inviteRequest struct {
	Email string           `json:"email"`
	Role  model.MemberRole `json:"role"`
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

type createNoteRequest struct {
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Visibility model.Visibility `json:"visibility"`
}

type createReplyRequest struct {
	Content string `json:"content"`
}

type groupResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LeaderID    string    `json:"leaderId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type memberResponse struct {
	ID     string             `json:"id"`
	UserID string             `json:"userId"`
	Name   string             `json:"name,omitempty"`
	Email  string             `json:"email,omitempty"`
	Image  string             `json:"image,omitempty"`
	Role   model.MemberRole   `json:"role"`
	Status model.MemberStatus `json:"status"`
}

type groupDetailResponse struct {
	groupResponse
	Members []memberResponse `json:"members"`
}

// userSummaryResponse は投稿者の表示用情報。
type userSummaryResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type replyResponse struct {
	ID        string              `json:"id"`
	Content   string              `json:"content"`
	User      userSummaryResponse `json:"user"`
	CreatedAt time.Time           `json:"createdAt"`
}

type noteResponse struct {
	ID         string              `json:"id"`
	Kind       model.NoteKind      `json:"kind"`
	Title      string              `json:"title"`
	Content    string              `json:"content"`
	Visibility model.Visibility    `json:"visibility"`
	User       userSummaryResponse `json:"user"`
	CreatedAt  time.Time           `json:"createdAt"`
	Replies    []replyResponse     `json:"replies"`
}

// ListGroups はログインユーザーが参加・招待されているグループ一覧を返す。
// GET /api/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	groups, err := h.service.ListGroups(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]groupResponse, len(groups))
	for i, g := range groups {
		resp[i] = toGroupResponse(g)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGroup はログインユーザーをリーダーとしてグループを作成する。
// POST /api/groups
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	g, err := h.service.CreateGroup(r.Context(), userID, req.Name, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupResponse(g))
}

// GetGroup はグループ詳細とメンバー一覧を返す。
// GET /api/groups/{id}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetGroup(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	members := make([]memberResponse, len(detail.Members))
	for i, m := range detail.Members {
		members[i] = memberResponse{
			ID:     m.ID,
			UserID: m.UserID,
			Name:   m.Name,
			Email:  m.Email,
			Image:  m.Image,
			Role:   m.Role,
			Status: m.Status,
		}
	}
	writeJSON(w, http.StatusOK, groupDetailResponse{
		groupResponse: toGroupResponse(detail.Group),
		Members:       members,
	})
}

// Invite はメールアドレスで指定したユーザーをグループに招待する。
// POST /api/groups/{id}/invitations
func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.service.Invite(r.Context(), userID, chi.URLParam(r, "id"), req.Email, req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(m))
}

// Respond は招待を承諾または辞退する。
// POST /api/groups/{id}/membership/respond
func (h *GroupHandler) Respond(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.service.Respond(r.Context(), userID, chi.URLParam(r, "id"), req.Accept)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

// Activate は承諾済みのメンバーシップをACTIVEにする。
// POST /api/groups/{id}/membership/activate
func (h *GroupHandler) Activate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	m, err := h.service.Activate(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

// ListNotes は閲覧者が読めるノート（または祈りの課題）を返信付きで返す。
// GET /api/groups/{id}/notes, GET /api/groups/{id}/prayers
func (h *GroupHandler) ListNotes(kind model.NoteKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		threads, err := h.service.ListNotes(r.Context(), userID, chi.URLParam(r, "id"), kind)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]noteResponse, len(threads))
		for i, t := range threads {
			resp[i] = toNoteResponse(t)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// CreateNote はノート（または祈りの課題）を投稿する。
// POST /api/groups/{id}/notes, POST /api/groups/{id}/prayers
func (h *GroupHandler) CreateNote(kind model.NoteKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		var req createNoteRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		note, err := h.service.CreateNote(r.Context(), userID, chi.URLParam(r, "id"), group.NoteInput{
			Kind:       kind,
			Title:      req.Title,
			Content:    req.Content,
			Visibility: req.Visibility,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toNoteResponse(group.Thread{
			Note: model.NoteWithAuthor{Note: *note, Author: model.UserSummary{ID: note.AuthorID}},
		}))
	}
}

// DeleteNote はノートを削除する。返信もあわせて削除される。
// DELETE /api/groups/{id}/notes/{noteId}
func (h *GroupHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteNote(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "noteId")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddReply はノートに返信する。
// POST /api/groups/{id}/notes/{noteId}/replies
func (h *GroupHandler) AddReply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.service.AddReply(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "noteId"), req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, replyResponse{
		ID:        reply.ID,
		Content:   reply.Content,
		User:      userSummaryResponse{ID: reply.AuthorID},
		CreatedAt: reply.CreatedAt,
	})
}

// Subscribe はグループのリアルタイム更新を受け取るWebSocket接続を開始する。
// GET /ws/groups/{id}
func (h *GroupHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	groupID := chi.URLParam(r, "id")
	if err := h.service.CanSubscribe(r.Context(), userID, groupID); err != nil {
		handleServiceError(w, err)
		return
	}

	// アップグレード失敗時のレスポンスはwebsocket.Upgraderが書き込む
	if err := h.subscriber.Serve(w, r, groupID, userID); err != nil {
		slog.Warn("websocket upgrade failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()),
		)
	}
}

func toGroupResponse(g *model.Group) groupResponse {
	return groupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		LeaderID:    g.LeaderID,
		CreatedAt:   g.CreatedAt,
	}
}

func toMemberResponse(m *model.GroupMember) memberResponse {
	return memberResponse{
		ID:     m.ID,
		UserID: m.UserID,
		Role:   m.Role,
		Status: m.Status,
	}
}

func toNoteResponse(t group.Thread) noteResponse {
	replies := make([]replyResponse, len(t.Replies))
	for i, rep := range t.Replies {
		replies[i] = replyResponse{
			ID:      rep.ID,
			Content: rep.Content,
			User: userSummaryResponse{
				ID:    rep.Author.ID,
				Name:  rep.Author.Name,
				Image: rep.Author.Image,
			},
			CreatedAt: rep.CreatedAt,
		}
	}
	return noteResponse{
		ID:         t.Note.ID,
		Kind:       t.Note.Kind,
		Title:      t.Note.Title,
		Content:    t.Note.Content,
		Visibility: t.Note.Visibility,
		User: userSummaryResponse{
			ID:    t.Note.Author.ID,
			Name:  t.Note.Author.Name,
			Image: t.Note.Author.Image,
		},
		CreatedAt: t.Note.CreatedAt,
		Replies:   replies,
	}
}
