package redisx

import "time"

const (
	// order_status:{order_id} -> {"order_id": "...", "status": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{id}, id is an event id or a webhook fingerprint
	KeyDedup = "dedup:%s:%s"

	// lock:{job}, held by the replica running a sweep
	KeyJobLock = "lock:%s"

	// alert_cooldown:{kind}, suppresses repeated operator alerts
	KeyAlertCooldown = "alert_cooldown:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
