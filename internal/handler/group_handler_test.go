package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/devotion/internal/group"
	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

// mockGroupService はGroupServiceInterfaceのモック実装。未設定のメソッドはゼロ値を返す。
type mockGroupService struct {
	createGroupFn  func(ctx context.Context, leaderID, name, description string) (*model.Group, error)
	listGroupsFn   func(ctx context.Context, userID string) ([]*model.Group, error)
	getGroupFn     func(ctx context.Context, actorID, groupID string) (*group.Detail, error)
	canSubscribeFn func(ctx context.Context, actorID, groupID string) error
	inviteFn       func(ctx context.Context, actorID, groupID, email string, role model.MemberRole) (*model.GroupMember, error)
	respondFn      func(ctx context.Context, actorID, groupID string, accept bool) (*model.GroupMember, error)
	activateFn     func(ctx context.Context, actorID, groupID string) (*model.GroupMember, error)
	createNoteFn   func(ctx context.Context, actorID, groupID string, in group.NoteInput) (*model.Note, error)
	listNotesFn    func(ctx context.Context, actorID, groupID string, kind model.NoteKind) ([]group.Thread, error)
	deleteNoteFn   func(ctx context.Context, actorID, groupID, noteID string) error
	addReplyFn     func(ctx context.Context, actorID, groupID, noteID, content string) (*model.NoteReply, error)
}

func (m *mockGroupService) CreateGroup(ctx context.Context, leaderID, name, description string) (*model.Group, error) {
	return m.createGroupFn(ctx, leaderID, name, description)
}

func (m *mockGroupService) ListGroups(ctx context.Context, userID string) ([]*model.Group, error) {
	if m.listGroupsFn == nil {
		return nil, nil
	}
	return m.listGroupsFn(ctx, userID)
}

func (m *mockGroupService) GetGroup(ctx context.Context, actorID, groupID string) (*group.Detail, error) {
	return m.getGroupFn(ctx, actorID, groupID)
}

func (m *mockGroupService) CanSubscribe(ctx context.Context, actorID, groupID string) error {
	if m.canSubscribeFn == nil {
		return nil
	}
	return m.canSubscribeFn(ctx, actorID, groupID)
}

func (m *mockGroupService) Invite(ctx context.Context, actorID, groupID, email string, role model.MemberRole) (*model.GroupMember, error) {
	return m.inviteFn(ctx, actorID, groupID, email, role)
}

func (m *mockGroupService) Respond(ctx context.Context, actorID, groupID string, accept bool) (*model.GroupMember, error) {
	return m.respondFn(ctx, actorID, groupID, accept)
}

func (m *mockGroupService) Activate(ctx context.Context, actorID, groupID string) (*model.GroupMember, error) {
	return m.activateFn(ctx, actorID, groupID)
}

func (m *mockGroupService) CreateNote(ctx context.Context, actorID, groupID string, in group.NoteInput) (*model.Note, error) {
	return m.createNoteFn(ctx, actorID, groupID, in)
}

func (m *mockGroupService) ListNotes(ctx context.Context, actorID, groupID string, kind model.NoteKind) ([]group.Thread, error) {
	if m.listNotesFn == nil {
		return nil, nil
	}
	return m.listNotesFn(ctx, actorID, groupID, kind)
}

func (m *mockGroupService) DeleteNote(ctx context.Context, actorID, groupID, noteID string) error {
	return m.deleteNoteFn(ctx, actorID, groupID, noteID)
}

func (m *mockGroupService) AddReply(ctx context.Context, actorID, groupID, noteID, content string) (*model.NoteReply, error) {
	return m.addReplyFn(ctx, actorID, groupID, noteID, content)
}

type mockSubscriber struct {
	called  bool
	groupID string
	userID  string
}

func (m *mockSubscriber) Serve(w http.ResponseWriter, r *http.Request, groupID, userID string) error {
	m.called = true
	m.groupID = groupID
	m.userID = userID
	return nil
}

func TestGroupHandler_CreateGroup(t *testing.T) {
	svc := &mockGroupService{
		createGroupFn: func(ctx context.Context, leaderID, name, description string) (*model.Group, error) {
			if leaderID != "user-1" || name != "Bible Study" {
				t.Errorf("args = (%q, %q)", leaderID, name)
			}
			return &model.Group{ID: "g1", Name: name, Description: description, LeaderID: leaderID}, nil
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/groups",
		jsonBody(t, map[string]string{"name": "Bible Study", "description": "Tuesdays"})), "user-1")
	w := httptest.NewRecorder()
	h.CreateGroup(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var got groupResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.ID != "g1" || got.LeaderID != "user-1" {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestGroupHandler_CreateNote_PassesKindAndMapsForbidden(t *testing.T) {
	var gotInput group.NoteInput
	svc := &mockGroupService{
		createNoteFn: func(ctx context.Context, actorID, groupID string, in group.NoteInput) (*model.Note, error) {
			gotInput = in
			return nil, model.NewForbiddenError("LEADERの公開範囲はリーダーまたは管理者のみ投稿できます")
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/prayers",
		jsonBody(t, map[string]string{"content": "pray for me", "visibility": "LEADER"}))
	req = withChiURLParams(withUserID(req, "user-1"), "id", "g1")
	w := httptest.NewRecorder()
	h.CreateNote(model.NoteKindPrayer)(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if gotInput.Kind != model.NoteKindPrayer || gotInput.Visibility != model.VisibilityLeader {
		t.Errorf("input = %+v", gotInput)
	}
}

func TestGroupHandler_CreateNote_Success(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &mockGroupService{
		createNoteFn: func(ctx context.Context, actorID, groupID string, in group.NoteInput) (*model.Note, error) {
			return &model.Note{ID: "n1", GroupID: groupID, AuthorID: actorID, Kind: in.Kind, Content: in.Content, Visibility: in.Visibility, CreatedAt: created}, nil
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/notes",
		jsonBody(t, map[string]string{"content": "Romans 8", "visibility": "GROUP"}))
	req = withChiURLParams(withUserID(req, "user-1"), "id", "g1")
	w := httptest.NewRecorder()
	h.CreateNote(model.NoteKindNote)(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var got noteResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.ID != "n1" || got.User.ID != "user-1" || got.Replies == nil {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestGroupHandler_ListNotes_IncludesReplies(t *testing.T) {
	svc := &mockGroupService{
		listNotesFn: func(ctx context.Context, actorID, groupID string, kind model.NoteKind) ([]group.Thread, error) {
			if kind != model.NoteKindNote {
				t.Errorf("kind = %q, want NOTE", kind)
			}
			return []group.Thread{{
				Note: model.NoteWithAuthor{
					Note:   model.Note{ID: "n1", Kind: model.NoteKindNote, Content: "hello", Visibility: model.VisibilityGroup},
					Author: model.UserSummary{ID: "alice", Name: "Alice"},
				},
				Replies: []model.ReplyWithAuthor{{
					NoteReply: model.NoteReply{ID: "r1", NoteID: "n1", Content: "amen"},
					Author:    model.UserSummary{ID: "bob", Name: "Bob"},
				}},
			}}, nil
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := withChiURLParams(withUserID(httptest.NewRequest(http.MethodGet, "/api/groups/g1/notes", nil), "bob"), "id", "g1")
	w := httptest.NewRecorder()
	h.ListNotes(model.NoteKindNote)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var raw []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("len = %d, want 1", len(raw))
	}
	for _, key := range []string{"id", "content", "title", "visibility", "user", "replies"} {
		if _, ok := raw[0][key]; !ok {
			t.Errorf("ノートに %q キーがありません: %v", key, raw[0])
		}
	}
	if _, ok := raw[0]["author"]; ok {
		t.Errorf("投稿者は user キーで返すべきです: %v", raw[0])
	}
	user, _ := raw[0]["user"].(map[string]any)
	if user["id"] != "alice" || user["name"] != "Alice" {
		t.Errorf("user = %v", user)
	}

	var got []noteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(got[0].Replies) != 1 || got[0].Replies[0].User.Name != "Bob" {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestGroupHandler_DeleteNote(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"成功", nil, http.StatusNoContent},
		{"権限なし", model.NewForbiddenError("投稿者、リーダー、管理者のみ削除できます"), http.StatusForbidden},
		{"存在しない", model.NewNoteNotFoundError("n1"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockGroupService{
				deleteNoteFn: func(ctx context.Context, actorID, groupID, noteID string) error {
					if groupID != "g1" || noteID != "n1" {
						t.Errorf("args = (%q, %q)", groupID, noteID)
					}
					return tt.err
				},
			}
			h := NewGroupHandler(svc, &mockSubscriber{})

			req := httptest.NewRequest(http.MethodDelete, "/api/groups/g1/notes/n1", nil)
			req = withChiURLParams(withUserID(req, "user-1"), "id", "g1", "noteId", "n1")
			w := httptest.NewRecorder()
			h.DeleteNote(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGroupHandler_Invite_AlreadyMember(t *testing.T) {
	svc := &mockGroupService{
		inviteFn: func(ctx context.Context, actorID, groupID, email string, role model.MemberRole) (*model.GroupMember, error) {
			if role != model.MemberRoleAdmin {
				t.Errorf("role = %q, want ADMIN", role)
			}
			return nil, model.NewAlreadyMemberError()
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/invitations",
		jsonBody(t, map[string]string{"email": "bob@example.com", "role": "ADMIN"}))
	req = withChiURLParams(withUserID(req, "leader"), "id", "g1")
	w := httptest.NewRecorder()
	h.Invite(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestGroupHandler_Respond(t *testing.T) {
	svc := &mockGroupService{
		respondFn: func(ctx context.Context, actorID, groupID string, accept bool) (*model.GroupMember, error) {
			if !accept {
				t.Error("accept = false, want true")
			}
			return &model.GroupMember{ID: "m1", GroupID: groupID, UserID: actorID, Role: model.MemberRoleMember, Status: model.MemberStatusAccepted}, nil
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/membership/respond", jsonBody(t, map[string]bool{"accept": true}))
	req = withChiURLParams(withUserID(req, "bob"), "id", "g1")
	w := httptest.NewRecorder()
	h.Respond(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got memberResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.Status != model.MemberStatusAccepted {
		t.Errorf("status = %q, want ACCEPTED", got.Status)
	}
}

func TestGroupHandler_Activate_InvalidTransition(t *testing.T) {
	svc := &mockGroupService{
		activateFn: func(ctx context.Context, actorID, groupID string) (*model.GroupMember, error) {
			return nil, model.NewInvalidMemberTransitionError(model.MemberStatusPending, model.MemberStatusActive)
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := withChiURLParams(withUserID(httptest.NewRequest(http.MethodPost, "/api/groups/g1/membership/activate", nil), "bob"), "id", "g1")
	w := httptest.NewRecorder()
	h.Activate(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestGroupHandler_GetGroup(t *testing.T) {
	svc := &mockGroupService{
		getGroupFn: func(ctx context.Context, actorID, groupID string) (*group.Detail, error) {
			return &group.Detail{
				Group: &model.Group{ID: groupID, Name: "Study", LeaderID: "leader"},
				Members: []repository.MemberWithUser{{
					GroupMember: model.GroupMember{ID: "m1", UserID: "bob", Role: model.MemberRoleMember, Status: model.MemberStatusActive},
					Name:        "Bob",
				}},
			}, nil
		},
	}
	h := NewGroupHandler(svc, &mockSubscriber{})

	req := withChiURLParams(withUserID(httptest.NewRequest(http.MethodGet, "/api/groups/g1", nil), "bob"), "id", "g1")
	w := httptest.NewRecorder()
	h.GetGroup(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got groupDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.ID != "g1" || len(got.Members) != 1 || got.Members[0].Name != "Bob" {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestGroupHandler_Subscribe(t *testing.T) {
	t.Run("権限がない場合はアップグレードしない", func(t *testing.T) {
		sub := &mockSubscriber{}
		svc := &mockGroupService{
			canSubscribeFn: func(ctx context.Context, actorID, groupID string) error {
				return model.NewForbiddenError("グループのメンバーではありません")
			},
		}
		h := NewGroupHandler(svc, sub)

		req := withChiURLParams(withUserID(httptest.NewRequest(http.MethodGet, "/ws/groups/g1", nil), "outsider"), "id", "g1")
		w := httptest.NewRecorder()
		h.Subscribe(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
		if sub.called {
			t.Error("権限がないのにServeが呼ばれました")
		}
	})

	t.Run("メンバーは購読者として登録される", func(t *testing.T) {
		sub := &mockSubscriber{}
		h := NewGroupHandler(&mockGroupService{}, sub)

		req := withChiURLParams(withUserID(httptest.NewRequest(http.MethodGet, "/ws/groups/g1", nil), "bob"), "id", "g1")
		w := httptest.NewRecorder()
		h.Subscribe(w, req)

		if !sub.called || sub.groupID != "g1" || sub.userID != "bob" {
			t.Errorf("subscriber = %+v", sub)
		}
	})

	t.Run("未ログインは401", func(t *testing.T) {
		sub := &mockSubscriber{}
		h := NewGroupHandler(&mockGroupService{}, sub)

		req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/ws/groups/g1", nil), "id", "g1")
		w := httptest.NewRecorder()
		h.Subscribe(w, req)

		if w.Code != http.StatusUnauthorized || sub.called {
			t.Errorf("status = %d, called = %v", w.Code, sub.called)
		}
	})
}
