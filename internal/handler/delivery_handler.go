package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/devotion/internal/model"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

// DeliveryHistoryService は配信履歴ハンドラーが必要とするサービスインターフェース。
type DeliveryHistoryService interface {
	History(ctx context.Context, userID string, limit int) ([]*model.DeliveryRecord, error)
}

// DeliveryHandler は配信履歴のHTTPハンドラー。
type DeliveryHandler struct {
	service DeliveryHistoryService
}

// NewDeliveryHandler はDeliveryHandlerを生成する。
func NewDeliveryHandler(service DeliveryHistoryService) *DeliveryHandler {
	return &DeliveryHandler{service: service}
}

// deliveryResponse は配信レコードのAPIレスポンス。
type deliveryResponse struct {
	ID             string               `json:"id"`
	MessageType    model.MessageType    `json:"messageType"`
	MessageContent string               `json:"messageContent"`
	Status         model.DeliveryStatus `json:"status"`
	SentAt         *time.Time           `json:"sentAt"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// List はログインユーザーの配信履歴を新しい順に返す。
// GET /api/deliveries?limit=30
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			handleServiceError(w, model.NewValidationError("limit", "1〜100の整数で指定してください"))
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]deliveryResponse, len(records))
	for i, rec := range records {
		resp[i] = deliveryResponse{
			ID:             rec.ID,
			MessageType:    rec.MessageType,
			MessageContent: rec.MessageContent,
			Status:         rec.DeliveryStatus,
			SentAt:         rec.SentAt,
			CreatedAt:      rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
