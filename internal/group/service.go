package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/devotion/internal/hub"
	"github.com/hitoshi/devotion/internal/model"
	"github.com/hitoshi/devotion/internal/repository"
)

const (
	maxGroupNameLength = 100
	maxTitleLength     = 200
	maxContentLength   = 10000
)

// Broadcaster はグループの購読者へメッセージを配信する。
type Broadcaster interface {
	Broadcast(m hub.Message)
}

// Sanitizer はユーザー入力のHTMLを安全なHTMLにする。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// NoteInput はノート・祈りの課題の作成入力。
type NoteInput struct {
	Kind       model.NoteKind
	Title      string
	Content    string
	Visibility model.Visibility
}

// Thread はノートと、その閲覧者が読める返信の組。
type Thread struct {
	Note    model.NoteWithAuthor
	Replies []model.ReplyWithAuthor
}

// Detail はグループとメンバー一覧。
type Detail struct {
	Group   *model.Group
	Members []repository.MemberWithUser
}

// NoteEvent はWebSocketで配信するイベント。
type NoteEvent struct {
	Type       string           `json:"type"`
	GroupID    string           `json:"groupId"`
	NoteID     string           `json:"noteId"`
	Kind       model.NoteKind   `json:"kind"`
	Title      string           `json:"title"`
	Visibility model.Visibility `json:"visibility"`
	AuthorID   string           `json:"authorId"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Service はグループ、メンバーシップ、ノートの操作を提供する。
// 操作の可否はすべてAuthorizeで判定する。
type Service struct {
	groupRepo   repository.GroupRepository
	noteRepo    repository.NoteRepository
	userRepo    repository.UserRepository
	broadcaster Broadcaster
	sanitizer   Sanitizer
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService はServiceを生成する。broadcasterはnilでもよい。
func NewService(
	groupRepo repository.GroupRepository,
	noteRepo repository.NoteRepository,
	userRepo repository.UserRepository,
	broadcaster Broadcaster,
	sanitizer Sanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		groupRepo:   groupRepo,
		noteRepo:    noteRepo,
		userRepo:    userRepo,
		broadcaster: broadcaster,
		sanitizer:   sanitizer,
		logger:      logger,
		clock:       time.Now,
	}
}

// CreateGroup はグループを作成し、作成者をリーダー（ACTIVE）として登録する。
func (s *Service) CreateGroup(ctx context.Context, leaderID, name, description string) (*model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("name", "グループ名は必須です")
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return nil, model.NewValidationError("name", fmt.Sprintf("グループ名は%d文字以内で入力してください", maxGroupNameLength))
	}

	now := s.clock()
	g := &model.Group{
		ID:          uuid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(description),
		LeaderID:    leaderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	leader := &model.GroupMember{
		ID:        uuid.New().String(),
		GroupID:   g.ID,
		UserID:    leaderID,
		Role:      model.MemberRoleLeader,
		Status:    model.MemberStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.groupRepo.CreateWithLeader(ctx, g, leader); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	s.logger.InfoContext(ctx, "group created",
		slog.String("group_id", g.ID),
		slog.String("user_id", leaderID),
	)
	return g, nil
}

// ListGroups はユーザーが参加中または招待中のグループを返す。
func (s *Service) ListGroups(ctx context.Context, userID string) ([]*model.Group, error) {
	groups, err := s.groupRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// GetGroup はグループとメンバー一覧を返す。リーダーと承認済みメンバーのみ閲覧できる。
func (s *Service) GetGroup(ctx context.Context, actorID, groupID string) (*Detail, error) {
	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if d := Authorize(actor, GroupResource(g), ActionRead); !d.Allowed {
		return nil, model.NewForbiddenError(d.Reason)
	}

	members, err := s.groupRepo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return &Detail{Group: g, Members: members}, nil
}

// CanSubscribe はユーザーがグループのリアルタイム更新を購読できるかを返す。
func (s *Service) CanSubscribe(ctx context.Context, actorID, groupID string) error {
	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if d := Authorize(actor, GroupResource(g), ActionRead); !d.Allowed {
		return model.NewForbiddenError(d.Reason)
	}
	return nil
}

// Invite はメールアドレスで指定したユーザーをPENDINGとして招待する。リーダーまたは管理者のみ実行できる。
func (s *Service) Invite(ctx context.Context, actorID, groupID, email string, role model.MemberRole) (*model.GroupMember, error) {
	if role == "" {
		role = model.MemberRoleMember
	}
	if role != model.MemberRoleMember && role != model.MemberRoleAdmin {
		return nil, model.NewValidationError("role", "MEMBER または ADMIN を指定してください")
	}

	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if d := Authorize(actor, GroupResource(g), ActionManage); !d.Allowed {
		return nil, model.NewForbiddenError(d.Reason)
	}

	invitee, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find invitee: %w", err)
	}
	if invitee == nil {
		return nil, model.NewUserNotFoundError()
	}

	now := s.clock()
	m := &model.GroupMember{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		UserID:    invitee.ID,
		Role:      role,
		Status:    model.MemberStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.groupRepo.CreateMember(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAlreadyMemberError()
		}
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return m, nil
}

// Respond は招待に応答する。acceptがtrueならACCEPTED、falseならREJECTEDになる。
func (s *Service) Respond(ctx context.Context, actorID, groupID string, accept bool) (*model.GroupMember, error) {
	to := model.MemberStatusRejected
	if accept {
		to = model.MemberStatusAccepted
	}
	return s.transition(ctx, actorID, groupID, to)
}

// Activate は承認済みのメンバーシップをACTIVEにする。
func (s *Service) Activate(ctx context.Context, actorID, groupID string) (*model.GroupMember, error) {
	return s.transition(ctx, actorID, groupID, model.MemberStatusActive)
}

func (s *Service) transition(ctx context.Context, actorID, groupID string, to model.MemberStatus) (*model.GroupMember, error) {
	m, err := s.groupRepo.FindMember(ctx, groupID, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError()
	}
	if err := Transition(m.Status, to); err != nil {
		return nil, err
	}

	now := s.clock()
	if err := s.groupRepo.UpdateMemberStatus(ctx, m.ID, m.Status, to, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, model.NewInvalidMemberTransitionError(m.Status, to)
		}
		return nil, fmt.Errorf("failed to update member status: %w", err)
	}
	m.Status = to
	m.UpdatedAt = now
	return m, nil
}

// CreateNote はノートまたは祈りの課題を作成する。権限がない場合は何も保存せず403を返す。
// 承認済み（ACCEPTED）のメンバーが投稿した場合、メンバーシップをACTIVEにする。
func (s *Service) CreateNote(ctx context.Context, actorID, groupID string, in NoteInput) (*model.Note, error) {
	if err := validateNoteInput(in); err != nil {
		return nil, err
	}

	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	note := &model.Note{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		AuthorID:   actorID,
		Kind:       in.Kind,
		Title:      strings.TrimSpace(in.Title),
		Content:    s.sanitizer.Sanitize(strings.TrimSpace(in.Content)),
		Visibility: in.Visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if d := Authorize(actor, NoteResource(g, note), ActionCreate); !d.Allowed {
		return nil, model.NewForbiddenError(d.Reason)
	}

	if err := s.noteRepo.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	if m := actor.Membership; m != nil && m.Status == model.MemberStatusAccepted {
		if err := s.groupRepo.UpdateMemberStatus(ctx, m.ID, model.MemberStatusAccepted, model.MemberStatusActive, now); err != nil && !errors.Is(err, repository.ErrStaleState) {
			s.logger.WarnContext(ctx, "failed to activate member",
				slog.String("group_id", groupID),
				slog.String("user_id", actorID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, g, note)
	return note, nil
}

// publish は新しいノートを、そのノートを閲覧できる購読者にのみ配信する。
func (s *Service) publish(ctx context.Context, g *model.Group, note *model.Note) {
	if s.broadcaster == nil {
		return
	}
	members, err := s.groupRepo.ListMembers(ctx, g.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list members for broadcast",
			slog.String("group_id", g.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	byUser := make(map[string]*model.GroupMember, len(members))
	for i := range members {
		byUser[members[i].UserID] = &members[i].GroupMember
	}

	payload, err := json.Marshal(NoteEvent{
		Type:       "note.created",
		GroupID:    g.ID,
		NoteID:     note.ID,
		Kind:       note.Kind,
		Title:      note.Title,
		Visibility: note.Visibility,
		AuthorID:   note.AuthorID,
		CreatedAt:  note.CreatedAt,
	})
	if err != nil {
		return
	}

	res := NoteResource(g, note)
	s.broadcaster.Broadcast(hub.Message{
		GroupID: g.ID,
		Payload: payload,
		Allow: func(userID string) bool {
			return Authorize(Actor{UserID: userID, Membership: byUser[userID]}, res, ActionRead).Allowed
		},
	})
}

// ListNotes はグループ内の指定種別のノートのうち、actorが閲覧できるものだけを返信付きで返す。
func (s *Service) ListNotes(ctx context.Context, actorID, groupID string, kind model.NoteKind) ([]Thread, error) {
	if kind != model.NoteKindNote && kind != model.NoteKindPrayer {
		return nil, model.NewValidationError("kind", "NOTE または PRAYER を指定してください")
	}

	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if d := Authorize(actor, GroupResource(g), ActionRead); !d.Allowed {
		return nil, model.NewForbiddenError(d.Reason)
	}

	notes, err := s.noteRepo.ListByGroup(ctx, groupID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	threads := make([]Thread, 0, len(notes))
	index := make(map[string]int, len(notes))
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		if !Authorize(actor, NoteResource(g, &n.Note), ActionRead).Allowed {
			continue
		}
		index[n.ID] = len(threads)
		ids = append(ids, n.ID)
		threads = append(threads, Thread{Note: n, Replies: []model.ReplyWithAuthor{}})
	}

	// 返信は親ノートが閲覧できる場合のみ取得する
	replies, err := s.noteRepo.ListReplies(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	for _, r := range replies {
		if i, ok := index[r.NoteID]; ok {
			threads[i].Replies = append(threads[i].Replies, r)
		}
	}
	return threads, nil
}

// DeleteNote はノートを削除する。投稿者、リーダー、管理者のみ実行できる。
func (s *Service) DeleteNote(ctx context.Context, actorID, groupID, noteID string) error {
	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	note, err := s.findNote(ctx, actor, g, noteID)
	if err != nil {
		return err
	}
	if d := Authorize(actor, NoteResource(g, note), ActionDelete); !d.Allowed {
		return model.NewForbiddenError(d.Reason)
	}
	if err := s.noteRepo.Delete(ctx, noteID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewNoteNotFoundError(noteID)
		}
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}

// AddReply はノートに返信する。親ノートを閲覧できるユーザーのみ返信できる。
func (s *Service) AddReply(ctx context.Context, actorID, groupID, noteID, content string) (*model.NoteReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, model.NewValidationError("content", "本文は必須です")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, model.NewValidationError("content", fmt.Sprintf("本文は%d文字以内で入力してください", maxContentLength))
	}

	g, actor, err := s.load(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.findNote(ctx, actor, g, noteID); err != nil {
		return nil, err
	}

	reply := &model.NoteReply{
		ID:        uuid.New().String(),
		NoteID:    noteID,
		AuthorID:  actorID,
		Content:   s.sanitizer.Sanitize(content),
		CreatedAt: s.clock(),
	}
	if err := s.noteRepo.CreateReply(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to create reply: %w", err)
	}
	return reply, nil
}

// findNote はグループ内のノートを取得する。閲覧できないノートは存在しないものとして扱う。
func (s *Service) findNote(ctx context.Context, actor Actor, g *model.Group, noteID string) (*model.Note, error) {
	note, err := s.noteRepo.FindByID(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	if note == nil || note.GroupID != g.ID {
		return nil, model.NewNoteNotFoundError(noteID)
	}
	if !Authorize(actor, NoteResource(g, note), ActionRead).Allowed {
		return nil, model.NewNoteNotFoundError(noteID)
	}
	return note, nil
}

// load はグループとactorのメンバーシップを取得する。
func (s *Service) load(ctx context.Context, actorID, groupID string) (*model.Group, Actor, error) {
	g, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, Actor{}, fmt.Errorf("failed to find group: %w", err)
	}
	if g == nil {
		return nil, Actor{}, model.NewGroupNotFoundError(groupID)
	}
	m, err := s.groupRepo.FindMember(ctx, groupID, actorID)
	if err != nil {
		return nil, Actor{}, fmt.Errorf("failed to find member: %w", err)
	}
	return g, Actor{UserID: actorID, Membership: m}, nil
}

func validateNoteInput(in NoteInput) error {
	if in.Kind != model.NoteKindNote && in.Kind != model.NoteKindPrayer {
		return model.NewValidationError("kind", "NOTE または PRAYER を指定してください")
	}
	if !in.Visibility.IsValid() {
		return model.NewValidationError("visibility", "PRIVATE、LEADER、GROUP のいずれかを指定してください")
	}
	if strings.TrimSpace(in.Content) == "" {
		return model.NewValidationError("content", "本文は必須です")
	}
	if utf8.RuneCountInString(in.Content) > maxContentLength {
		return model.NewValidationError("content", fmt.Sprintf("本文は%d文字以内で入力してください", maxContentLength))
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return model.NewValidationError("title", fmt.Sprintf("タイトルは%d文字以内で入力してください", maxTitleLength))
	}
	return nil
}
