package response

import (
	"time"

	"popndrop/internal/data/entity"

	"github.com/google/uuid"
)

type AttentionResponse struct {
	ID         uuid.UUID  `json:"id"`
	BookingID  uuid.UUID  `json:"booking_id"`
	Kind       string     `json:"kind"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func NewAttentionResponse(a *entity.AttentionItem) AttentionResponse {
	return AttentionResponse{
		ID:         a.ID,
		BookingID:  a.BookingID,
		Kind:       string(a.Kind),
		Reason:     a.Reason,
		CreatedAt:  a.CreatedAt,
		LastSeenAt: a.LastSeenAt,
		ResolvedAt: a.ResolvedAt,
	}
}

// WebhookResponse acknowledges a provider event. Duplicate deliveries
// are acknowledged the same way.
type WebhookResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

type SweepResponse struct {
	AttentionCreated int `json:"attention_created"`
	AutoCompleted    int `json:"auto_completed"`
	ExpiredReleased  int `json:"expired_released"`
	RefundsReissued  int `json:"refunds_reissued"`
}
