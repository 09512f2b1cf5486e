package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// DefaultClaimLease время, на которое воркер забирает задачу. Задача,
// не освобождённая и не возвращённая за это время, снова становится
// доступной: воркер мог упасть между ClaimDue и Release.
const DefaultClaimLease = 5 * time.Minute

// RedisQueue очередь задач в Redis. Для каждой именованной очереди:
//
//	automation:{queue}:tasks      HASH  id -> JSON задачи
//	automation:{queue}:due        ZSET  незабранные задачи, score = RunAfter (ms)
//	automation:{queue}:claimed    ZSET  забранные задачи, score = срок аренды (ms)
//	automation:{queue}:cancelled  SET   задачи, снятые во время аренды
//	automation:{queue}:free       ZSET  свободные слоты, score = id
//	automation:{queue}:init       флаг однократного заполнения free
//
// Переходы между множествами выполняются Lua-скриптами атомарно.
type RedisQueue struct {
	db       *redis.Client
	capacity int
	lease    time.Duration
}

// RedisOption настраивает RedisQueue.
type RedisOption func(*RedisQueue)

// WithClaimLease задаёт срок аренды забранной задачи.
func WithClaimLease(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// NewRedisQueue создаёт очередь поверх клиента Redis.
func NewRedisQueue(db *redis.Client, capacity int, opts ...RedisOption) *RedisQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &RedisQueue{db: db, capacity: capacity, lease: DefaultClaimLease}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func tasksKey(queue string) string     { return "automation:" + queue + ":tasks" }
func dueKey(queue string) string       { return "automation:" + queue + ":due" }
func claimedKey(queue string) string   { return "automation:" + queue + ":claimed" }
func cancelledKey(queue string) string { return "automation:" + queue + ":cancelled" }
func freeKey(queue string) string      { return "automation:" + queue + ":free" }
func initKey(queue string) string      { return "automation:" + queue + ":init" }

// moveScript переносит задачу из одного ZSET в другой с новым score.
// KEYS: from, to. ARGV: id, score.
var moveScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// deregisterScript снимает ожидающую задачу или помечает забранную.
// KEYS: tasks, due, claimed, free, cancelled. ARGV: id.
var deregisterScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('SREM', KEYS[5], ARGV[1])
	redis.call('ZADD', KEYS[4], ARGV[1], ARGV[1])
	return 1
end
if redis.call('ZSCORE', KEYS[3], ARGV[1]) and redis.call('SISMEMBER', KEYS[5], ARGV[1]) == 0 then
	redis.call('SADD', KEYS[5], ARGV[1])
	return 1
end
return 0
`)

// releaseScript освобождает слот забранной задачи.
// KEYS: tasks, claimed, free, cancelled. ARGV: id.
var releaseScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[1])
return 1
`)

// requeueScript возвращает забранную задачу в due либо освобождает
// слот, если задачу сняли во время аренды.
// KEYS: tasks, due, claimed, free, cancelled. ARGV: id, run_after_ms, task.
var requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[3], ARGV[1]) == 0 then
	return 0
end
if redis.call('SREM', KEYS[5], ARGV[1]) == 1 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('ZADD', KEYS[4], ARGV[1], ARGV[1])
	return 2
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

func member(id models.TaskID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(s string) (models.TaskID, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return models.TaskID(id), nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (q *RedisQueue) ensureSlots(ctx context.Context, queue string) error {
	created, err := q.db.SetNX(ctx, initKey(queue), q.capacity, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	slots := make([]redis.Z, q.capacity)
	for i := range slots {
		slots[i] = redis.Z{Score: float64(i), Member: member(models.TaskID(i))}
	}
	return q.db.ZAdd(ctx, freeKey(queue), slots...).Err()
}

func (q *RedisQueue) RegisterTask(ctx context.Context, queue string, runAfter time.Time, cb Callback) (models.TaskID, error) {
	const op = "automation.RedisQueue.RegisterTask"

	if err := q.ensureSlots(ctx, queue); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	popped, err := q.db.ZPopMin(ctx, freeKey(queue), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(popped) == 0 {
		return 0, fmt.Errorf("%s: %w", op, ErrQueueFull)
	}
	raw, ok := popped[0].Member.(string)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected slot member %T", op, popped[0].Member)
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: bad slot %q: %w", op, raw, err)
	}

	task := Task{ID: id, Queue: queue, RunAfter: runAfter, Callback: cb}
	data, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, errors.Join(err, q.returnSlot(ctx, queue, id)))
	}

	_, err = q.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tasksKey(queue), raw, data)
		pipe.SRem(ctx, cancelledKey(queue), raw)
		pipe.ZAdd(ctx, dueKey(queue), redis.Z{Score: float64(runAfter.UnixMilli()), Member: raw})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, errors.Join(err, q.returnSlot(ctx, queue, id)))
	}
	return id, nil
}

// returnSlot возвращает слот, который не удалось занять. Потерянный слот
// навсегда уменьшает ёмкость очереди, поэтому ошибка не глотается.
func (q *RedisQueue) returnSlot(ctx context.Context, queue string, id models.TaskID) error {
	err := q.db.ZAdd(context.WithoutCancel(ctx), freeKey(queue),
		redis.Z{Score: float64(id), Member: member(id)}).Err()
	if err != nil {
		return fmt.Errorf("slot %d lost: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) DeregisterTask(ctx context.Context, queue string, id models.TaskID) error {
	const op = "automation.RedisQueue.DeregisterTask"

	done, err := deregisterScript.Run(ctx, q.db,
		[]string{tasksKey(queue), dueKey(queue), claimedKey(queue), freeKey(queue), cancelledKey(queue)},
		member(id)).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if done == 0 {
		return fmt.Errorf("%s: %w", op, ErrTaskNotFound)
	}
	return nil
}

// ClaimDue сначала возвращает в due задачи с истёкшей арендой, затем
// забирает созревшие задачи на срок аренды от now.
func (q *RedisQueue) ClaimDue(ctx context.Context, queue string, now time.Time, limit int) ([]Task, error) {
	const op = "automation.RedisQueue.ClaimDue"

	if err := q.reclaimExpired(ctx, queue, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids, err := q.db.ZRangeByScore(ctx, dueKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   millis(now),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	deadline := millis(now.Add(q.lease))
	claimed := make([]Task, 0, len(ids))
	for _, raw := range ids {
		moved, err := moveScript.Run(ctx, q.db, []string{dueKey(queue), claimedKey(queue)}, raw, deadline).Int()
		if err != nil {
			return claimed, fmt.Errorf("%s: %w", op, err)
		}
		if moved == 0 {
			// забрал другой воркер или задачу сняли
			continue
		}
		id, err := parseID(raw)
		if err != nil {
			return claimed, fmt.Errorf("%s: bad task id %q: %w", op, raw, err)
		}
		task, err := q.load(ctx, queue, id)
		if err != nil {
			return claimed, fmt.Errorf("%s: %w", op, err)
		}
		cancelled, err := q.db.SIsMember(ctx, cancelledKey(queue), raw).Result()
		if err != nil {
			return claimed, fmt.Errorf("%s: %w", op, err)
		}
		task.Claimed = true
		task.Cancelled = cancelled
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

func (q *RedisQueue) reclaimExpired(ctx context.Context, queue string, now time.Time) error {
	expired, err := q.db.ZRangeByScore(ctx, claimedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: millis(now),
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range expired {
		// снятая задача вернётся с флагом Cancelled и будет освобождена воркером
		if err := moveScript.Run(ctx, q.db, []string{claimedKey(queue), dueKey(queue)}, raw, millis(now)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, queue string, id models.TaskID) error {
	const op = "automation.RedisQueue.Release"

	done, err := releaseScript.Run(ctx, q.db,
		[]string{tasksKey(queue), claimedKey(queue), freeKey(queue), cancelledKey(queue)},
		member(id)).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if done == 0 {
		return fmt.Errorf("%s: task %d is not claimed: %w", op, id, ErrTaskNotFound)
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, queue string, id models.TaskID, runAfter time.Time) error {
	const op = "automation.RedisQueue.Requeue"

	task, err := q.load(ctx, queue, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	task.RunAfter = runAfter
	task.Claimed = false
	task.Cancelled = false
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	done, err := requeueScript.Run(ctx, q.db,
		[]string{tasksKey(queue), dueKey(queue), claimedKey(queue), freeKey(queue), cancelledKey(queue)},
		member(id), millis(runAfter), data).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if done == 0 {
		return fmt.Errorf("%s: task %d is not claimed: %w", op, id, ErrTaskNotFound)
	}
	return nil
}

// Pending число задач, ожидающих своего времени.
func (q *RedisQueue) Pending(ctx context.Context, queue string) (int64, error) {
	const op = "automation.RedisQueue.Pending"
	n, err := q.db.ZCard(ctx, dueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (q *RedisQueue) load(ctx context.Context, queue string, id models.TaskID) (*Task, error) {
	data, err := q.db.HGet(ctx, tasksKey(queue), member(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
