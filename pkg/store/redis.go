package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"job-coordinator/pkg/job"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	jobKeyPrefix = "job:"
	pendingKey   = "jobs:pending"
)

// insertScript creates the job hash unless the key already exists.
// KEYS[1] = job hash, KEYS[2] = pending index
// ARGV[1] = status, ARGV[2] = data, ARGV[3] = created_at score, ARGV[4] = job id
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'data', ARGV[2])
if ARGV[1] == 'pending' then
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
end
return 1
`)

// casScript swaps the job hash only when its status field matches ARGV[1].
// KEYS[1] = job hash, KEYS[2] = pending index
// ARGV[1] = expected status, ARGV[2] = next status, ARGV[3] = next data, ARGV[4] = job id
var casScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'status')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'data', ARGV[3])
if ARGV[1] == 'pending' and ARGV[2] ~= 'pending' then
	redis.call('ZREM', KEYS[2], ARGV[4])
end
return 1
`)

// Redis stores each job as a hash {status, data} under job:<id>; pending ids are
// also indexed in a sorted set scored by creation time.
type Redis struct {
	rc  *redis.Client
	log logrus.FieldLogger
}

func NewRedis(rc *redis.Client) *Redis {
	return &Redis{rc: rc, log: logrus.StandardLogger()}
}

// WithLogger sets the logger used for records skipped while scanning.
func (r *Redis) WithLogger(log logrus.FieldLogger) *Redis {
	r.log = log.WithField("component", "redis_store")
	return r
}

// errCorruptRecord marks a stored job whose data field cannot be decoded.
var errCorruptRecord = errors.New("corrupt job record")

func jobKey(id string) string { return jobKeyPrefix + id }

func (r *Redis) Insert(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res, err := insertScript.Run(ctx, r.rc,
		[]string{jobKey(j.ID), pendingKey},
		string(j.Status), data, strconv.FormatInt(j.CreatedAt.UnixNano(), 10), j.ID,
	).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := r.rc.HGet(ctx, jobKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, job.ErrNotFound
		}
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", errCorruptRecord, id, err)
	}
	return &j, nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, expected job.Status, next *job.Job) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}
	res, err := casScript.Run(ctx, r.rc,
		[]string{jobKey(next.ID), pendingKey},
		string(expected), string(next.Status), data, next.ID,
	).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, job.ErrNotFound
	}
}

func (r *Redis) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	ids, err := r.rc.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(olderThan.UnixNano(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if errors.Is(err, job.ErrNotFound) {
			if err := r.rc.ZRem(ctx, pendingKey, id).Err(); err != nil {
				r.log.WithError(err).WithField("job_id", id).Warn("failed to drop dangling pending index entry")
			}
			continue
		}
		if errors.Is(err, errCorruptRecord) {
			r.log.WithError(err).WithField("job_id", id).Error("skipping undecodable pending job")
			continue
		}
		if err != nil {
			return nil, err
		}
		if j.Status == job.StatusPending {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rc.Ping(ctx).Err()
}

// Close is a no-op: the client is owned by whoever constructed it.
func (r *Redis) Close() error { return nil }
