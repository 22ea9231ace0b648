package domain

import "time"

type Notification struct {
	ID            string    `json:"id"`
	RecipientRole ActorRole `json:"recipient_role"`
	RecipientID   string    `json:"recipient_id"`
	OrderID       string    `json:"order_id"`
	Event         string    `json:"event"`
	Body          string    `json:"body"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}
