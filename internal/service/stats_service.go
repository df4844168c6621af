package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/veritest/veritest-backend/internal/config"
	"github.com/veritest/veritest-backend/internal/stats"
)

// FactSource supplies terminal-attempt fact rows to the aggregation engine.
type FactSource interface {
	ExamFacts(ctx context.Context, examID uuid.UUID) ([]stats.AttemptFact, error)
	StudentFacts(ctx context.Context, studentID int) ([]stats.AttemptFact, error)
	FactsSince(ctx context.Context, from time.Time, examID *uuid.UUID) ([]stats.AttemptFact, error)
}

// StatsService serves aggregation queries. Rollups are computed in-process
// from fact rows; the per-exam leaderboard is cached in a Redis ZSET with a
// short TTL so hot exams don't re-scan attempts on every request.
type StatsService struct {
	facts            FactSource
	redis            *redis.Client
	leaderboardLimit int
	leaderboardTTL   time.Duration
	log              zerolog.Logger
}

// NewStatsService creates a new StatsService. redis may be nil; the
// leaderboard then recomputes on every call.
func NewStatsService(facts FactSource, rdb *redis.Client, leaderboardLimit int, leaderboardTTL time.Duration, log zerolog.Logger) *StatsService {
	return &StatsService{
		facts:            facts,
		redis:            rdb,
		leaderboardLimit: leaderboardLimit,
		leaderboardTTL:   leaderboardTTL,
		log:              log.With().Str("component", "stats_service").Logger(),
	}
}

// ExamStatistics rolls up every terminal attempt of one exam.
func (s *StatsService) ExamStatistics(ctx context.Context, examID uuid.UUID) (stats.ExamStats, error) {
	facts, err := s.facts.ExamFacts(ctx, examID)
	if err != nil {
		return stats.ExamStats{}, fmt.Errorf("exam facts: %w", err)
	}
	return stats.ComputeExamStats(facts), nil
}

// StudentStatistics rolls up one student's terminal attempts across exams.
func (s *StatsService) StudentStatistics(ctx context.Context, studentID int) (stats.StudentStats, error) {
	facts, err := s.facts.StudentFacts(ctx, studentID)
	if err != nil {
		return stats.StudentStats{}, fmt.Errorf("student facts: %w", err)
	}
	return stats.ComputeStudentStats(facts), nil
}

// Leaderboard returns the exam's top students by mean percentage. Reads go
// through the ZSET cache; a miss rebuilds the whole key from the fact rows.
func (s *StatsService) Leaderboard(ctx context.Context, examID uuid.UUID) ([]stats.LeaderboardRow, error) {
	if s.redis != nil {
		rows, err := s.readLeaderboardCache(ctx, examID)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard cache read failed")
		} else if rows != nil {
			return rows, nil
		}
	}

	facts, err := s.facts.ExamFacts(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("exam facts: %w", err)
	}
	rows := stats.ComputeLeaderboard(facts, s.leaderboardLimit)

	if s.redis != nil && len(rows) > 0 {
		if err := s.writeLeaderboardCache(ctx, examID, rows); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard cache write failed")
		}
	}
	return rows, nil
}

// ZSET member format: "<student_id>:<attempt_count>". The score carries the
// mean percentage; the member carries what the row needs beyond it.
func leaderboardMember(row stats.LeaderboardRow) string {
	return fmt.Sprintf("%d:%d", row.StudentID, row.AttemptCount)
}

func parseLeaderboardMember(member string) (studentID, attemptCount int, err error) {
	id, count, ok := strings.Cut(member, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed leaderboard member %q", member)
	}
	studentID, err = strconv.Atoi(id)
	if err != nil {
		return 0, 0, err
	}
	attemptCount, err = strconv.Atoi(count)
	return studentID, attemptCount, err
}

// readLeaderboardCache returns nil rows (no error) on a cache miss.
func (s *StatsService) readLeaderboardCache(ctx context.Context, examID uuid.UUID) ([]stats.LeaderboardRow, error) {
	key := config.CacheKey.ExamLeaderboardKey(examID.String())
	results, err := s.redis.ZRevRangeWithScores(ctx, key, 0, int64(s.leaderboardLimit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	rows := make([]stats.LeaderboardRow, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected leaderboard member type %T", z.Member)
		}
		studentID, attemptCount, err := parseLeaderboardMember(member)
		if err != nil {
			return nil, err
		}
		rows = append(rows, stats.LeaderboardRow{
			StudentID:     studentID,
			AttemptCount:  attemptCount,
			AvgPercentage: z.Score,
		})
	}
	// The ZSET orders tied scores by member string; re-rank so warm reads
	// break ties the same way the computed path does.
	stats.RankLeaderboard(rows)
	return rows, nil
}

func (s *StatsService) writeLeaderboardCache(ctx context.Context, examID uuid.UUID, rows []stats.LeaderboardRow) error {
	key := config.CacheKey.ExamLeaderboardKey(examID.String())
	members := make([]redis.Z, len(rows))
	for i, row := range rows {
		members[i] = redis.Z{Score: row.AvgPercentage, Member: leaderboardMember(row)}
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, s.leaderboardTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateLeaderboard drops the cached leaderboard of one exam, forcing the
// next read to rebuild. Called after a finalize changes the standings.
func (s *StatsService) InvalidateLeaderboard(ctx context.Context, examID uuid.UUID) {
	if s.redis == nil {
		return
	}
	key := config.CacheKey.ExamLeaderboardKey(examID.String())
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard invalidation failed")
	}
}

// Trends buckets terminal attempts finished in the last `days` days by
// calendar day, optionally narrowed to one exam.
func (s *StatsService) Trends(ctx context.Context, days int, examID *uuid.UUID) ([]stats.TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	from := time.Now().UTC().AddDate(0, 0, -days)
	facts, err := s.facts.FactsSince(ctx, from, examID)
	if err != nil {
		return nil, fmt.Errorf("facts since %s: %w", from.Format("2006-01-02"), err)
	}
	return stats.ComputeTrends(facts), nil
}
