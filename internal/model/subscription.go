package model

import "time"

// Plan は課金プランを表す。
type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanFamily  Plan = "FAMILY"
	PlanPremium Plan = "PREMIUM"
)

// SubscriptionStatus は課金状態を表す。
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// MaxFamilyMembers は1アカウントに紐づけられる家族メンバーの上限。
const MaxFamilyMembers = 5

// Subscription はユーザーのプラン・支払い・トライアル状態を表す。
type Subscription struct {
	ID               string
	UserID           string
	Plan             Plan
	Status           SubscriptionStatus
	TrialEndsAt      *time.Time
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsInGoodStanding は指定時刻において有料機能を利用できる状態かを返す。
// ACTIVE、または期限内のTRIALINGが該当する。
func (s *Subscription) IsInGoodStanding(now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SubscriptionStatusActive:
		return true
	case SubscriptionStatusTrialing:
		return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
	}
	return false
}

// AllowsFamily は家族アカウント機能を利用できるプランかを返す。
func (s *Subscription) AllowsFamily(now time.Time) bool {
	if !s.IsInGoodStanding(now) {
		return false
	}
	return s.Plan == PlanFamily || s.Plan == PlanPremium
}

// FreeSubscription はサインアップ直後のFREEプランを返す。
func FreeSubscription(id, userID string, now time.Time) *Subscription {
	return &Subscription{
		ID:        id,
		UserID:    userID,
		Plan:      PlanFree,
		Status:    SubscriptionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FamilyMember はオーナーアカウントに紐づく家族メンバー。
type FamilyMember struct {
	ID           string
	OwnerID      string
	MemberUserID string
	CreatedAt    time.Time
}

// FamilyMemberWithUser はユーザー情報を結合した家族メンバー。
type FamilyMemberWithUser struct {
	FamilyMember
	Name  string
	Email string
}
