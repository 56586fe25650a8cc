package orders

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord maps a client-supplied Idempotency-Key to the order
// it produced, so retries replay the stored outcome instead of placing
// a second order.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
