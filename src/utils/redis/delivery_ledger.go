package redis_utils

import (
	"context"
	"time"
)

type deliveryRecord struct {
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeliveryLedger records delivered report occurrences in Redis. Entries expire
// after TTL, by which time the occurrence has long been settled.
type DeliveryLedger struct {
	Handler *RedisHandler
	TTL     time.Duration
	Now     func() time.Time
}

func NewDeliveryLedger(handler *RedisHandler, ttl time.Duration) *DeliveryLedger {
	return &DeliveryLedger{Handler: handler, TTL: ttl, Now: time.Now}
}

func (l *DeliveryLedger) Delivered(ctx context.Context, key string) (bool, error) {
	return l.Handler.Exists(ctx, key)
}

func (l *DeliveryLedger) Record(ctx context.Context, key string) error {
	return l.Handler.Set(ctx, key, deliveryRecord{DeliveredAt: l.Now().UTC()}, l.TTL)
}
