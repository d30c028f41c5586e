package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptEventsChannel returns the Redis PubSub channel for one attempt's lifecycle events
func (r *CacheKeyStruct) AttemptEventsChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:events", attemptID)
}

// AttemptEventsPattern matches every attempt events channel
func (r *CacheKeyStruct) AttemptEventsPattern() string {
	return "attempt:*:events"
}

// ExpirySweepLockKey returns the lock held by the instance running the expiry sweep
func (r *CacheKeyStruct) ExpirySweepLockKey() string {
	return "lock:attempt_expiry_sweep"
}

var CacheKey = NewCacheKeyStruct()
