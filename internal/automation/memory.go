package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// MemoryQueue очередь в памяти процесса.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]map[models.TaskID]*Task
}

// NewMemoryQueue создаёт очередь на capacity слотов в каждой именованной очереди.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{
		capacity: capacity,
		queues:   make(map[string]map[models.TaskID]*Task),
	}
}

func (q *MemoryQueue) tasks(queue string) map[models.TaskID]*Task {
	tasks, ok := q.queues[queue]
	if !ok {
		tasks = make(map[models.TaskID]*Task)
		q.queues[queue] = tasks
	}
	return tasks
}

// RegisterTask занимает наименьший свободный слот.
func (q *MemoryQueue) RegisterTask(ctx context.Context, queue string, runAfter time.Time, cb Callback) (models.TaskID, error) {
	const op = "automation.MemoryQueue.RegisterTask"
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks(queue)
	for i := 0; i < q.capacity; i++ {
		id := models.TaskID(i)
		if _, busy := tasks[id]; busy {
			continue
		}
		tasks[id] = &Task{ID: id, Queue: queue, RunAfter: runAfter, Callback: cb}
		return id, nil
	}
	return 0, fmt.Errorf("%s: %w", op, ErrQueueFull)
}

func (q *MemoryQueue) DeregisterTask(ctx context.Context, queue string, id models.TaskID) error {
	const op = "automation.MemoryQueue.DeregisterTask"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks(queue)
	task, ok := tasks[id]
	if !ok || task.Cancelled {
		return fmt.Errorf("%s: %w", op, ErrTaskNotFound)
	}
	if task.Claimed {
		task.Cancelled = true
		return nil
	}
	delete(tasks, id)
	return nil
}

func (q *MemoryQueue) ClaimDue(ctx context.Context, queue string, now time.Time, limit int) ([]Task, error) {
	const op = "automation.MemoryQueue.ClaimDue"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Task
	for _, task := range q.tasks(queue) {
		if task.Claimed || task.RunAfter.After(now) {
			continue
		}
		due = append(due, task)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RunAfter.Equal(due[j].RunAfter) {
			return due[i].ID < due[j].ID
		}
		return due[i].RunAfter.Before(due[j].RunAfter)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Task, 0, len(due))
	for _, task := range due {
		task.Claimed = true
		claimed = append(claimed, *task)
	}
	return claimed, nil
}

func (q *MemoryQueue) Release(ctx context.Context, queue string, id models.TaskID) error {
	const op = "automation.MemoryQueue.Release"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks(queue)
	task, ok := tasks[id]
	if !ok || !task.Claimed {
		return fmt.Errorf("%s: %w", op, ErrTaskNotFound)
	}
	delete(tasks, id)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, queue string, id models.TaskID, runAfter time.Time) error {
	const op = "automation.MemoryQueue.Requeue"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks(queue)
	task, ok := tasks[id]
	if !ok || !task.Claimed {
		return fmt.Errorf("%s: %w", op, ErrTaskNotFound)
	}
	if task.Cancelled {
		delete(tasks, id)
		return nil
	}
	task.Claimed = false
	task.RunAfter = runAfter
	return nil
}

// Tasks снимок живых задач очереди, отсортированный по идентификатору.
func (q *MemoryQueue) Tasks(queue string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]Task, 0, len(q.queues[queue]))
	for _, task := range q.queues[queue] {
		result = append(result, *task)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Task возвращает задачу по идентификатору.
func (q *MemoryQueue) Task(queue string, id models.TaskID) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.queues[queue][id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}
