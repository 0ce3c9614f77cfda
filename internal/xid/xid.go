package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "prd-3f2a...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// IntSource is satisfied by *math/rand.Rand.
type IntSource interface {
	Intn(n int) int
}

// OrderNumber formats "ORD-<last 6 digits of epoch ms>-<3 digit random>".
func OrderNumber(now time.Time, src IntSource) string {
	millis := now.UnixMilli() % 1_000_000
	return fmt.Sprintf("ORD-%06d-%03d", millis, src.Intn(1000))
}
