package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// ==================== UUID ====================

func GenerateUUID() uuid.UUID {
	return uuid.New()
}

func ParseUUID(uuidStr string) (uuid.UUID, error) {
	return uuid.Parse(uuidStr)
}

// ==================== PROVIDER KEYS ====================

// RefundIdempotencyKey is sent with every provider refund call so a
// retried intent never issues a second refund.
func RefundIdempotencyKey(refundID uuid.UUID) string {
	return fmt.Sprintf("refund-%s", refundID.String())
}
