package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPayloadKey returns the cache key for the student-facing exam payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamLeaderboardKey returns the ZSET key holding an exam's leaderboard
// (mean percentage per student).
func (r *CacheKeyStruct) ExamLeaderboardKey(examID string) string {
	return fmt.Sprintf("exam:%s:leaderboard", examID)
}

// ExamMonitorChannel returns the Pub/Sub channel carrying live attempt events
// for one exam.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
