package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vigilops/vigil-core/internal/analysis"
)

const latestTTL = 15 * time.Minute

// LatestStore keeps each camera's most recent analysis result for
// dashboard polling. A late-forming correlation group is patched into
// the cached copy so both members show the same group id.
type LatestStore interface {
	SetLatest(ctx context.Context, res *analysis.Result) error
	GetLatest(ctx context.Context, cameraID string) (*analysis.Result, error)
	BackfillGroup(ctx context.Context, cameraID string, members []uuid.UUID, groupID uuid.UUID) error
}

// RedisLatest stores one JSON blob per camera under
// result:latest:{camera}.
type RedisLatest struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLatest(rdb *redis.Client) *RedisLatest {
	return &RedisLatest{rdb: rdb, ttl: latestTTL}
}

func latestKey(cameraID string) string {
	return fmt.Sprintf("result:latest:%s", cameraID)
}

func (s *RedisLatest) SetLatest(ctx context.Context, res *analysis.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, latestKey(res.CameraID), data, s.ttl).Err()
}

// GetLatest returns nil without error when the camera has no cached
// result.
func (s *RedisLatest) GetLatest(ctx context.Context, cameraID string) (*analysis.Result, error) {
	raw, err := s.rdb.Get(ctx, latestKey(cameraID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res analysis.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BackfillGroup stamps the group id onto a camera's cached result if
// that result is one of the group's members.
func (s *RedisLatest) BackfillGroup(ctx context.Context, cameraID string, members []uuid.UUID, groupID uuid.UUID) error {
	res, err := s.GetLatest(ctx, cameraID)
	if err != nil || res == nil {
		return err
	}
	if res.GroupID != nil {
		return nil
	}
	for _, m := range members {
		if m == res.EventID {
			res.GroupID = &groupID
			data, err := json.Marshal(res)
			if err != nil {
				return err
			}
			return s.rdb.Set(ctx, latestKey(cameraID), data, redis.KeepTTL).Err()
		}
	}
	return nil
}
