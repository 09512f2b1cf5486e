// Package cadence вычисляет время следующего списания по плану.
//
// План задаёт интервал в секундах и, опционально, cron-выражение. Если
// выражение задано, успешные списания планируются по нему, а интервал
// остаётся задержкой повторной попытки после неудачного списания.
package cadence

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidInterval интервал равен нулю.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrInvalidSchedule cron-выражение не разбирается.
	ErrInvalidSchedule = errors.New("invalid schedule expression")
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cadence расписание списаний одного плана.
type Cadence struct {
	interval time.Duration
	schedule cron.Schedule
}

// New разбирает интервал (в секундах) и необязательное cron-выражение.
func New(intervalSeconds uint64, expr string) (Cadence, error) {
	const op = "cadence.New"
	if intervalSeconds == 0 {
		return Cadence{}, fmt.Errorf("%s: %w", op, ErrInvalidInterval)
	}
	c := Cadence{interval: time.Duration(intervalSeconds) * time.Second}
	if expr == "" {
		return c, nil
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidSchedule, err)
	}
	c.schedule = schedule
	return c, nil
}

// Validate проверяет параметры расписания без построения Cadence.
func Validate(intervalSeconds uint64, expr string) error {
	_, err := New(intervalSeconds, expr)
	return err
}

// Next время следующего планового списания после from.
func (c Cadence) Next(from time.Time) time.Time {
	if c.schedule != nil {
		return c.schedule.Next(from)
	}
	return from.Add(c.interval)
}

// Retry время повторной попытки после неудачного списания.
func (c Cadence) Retry(from time.Time) time.Time {
	return from.Add(c.interval)
}

// Interval базовый интервал плана.
func (c Cadence) Interval() time.Duration {
	return c.interval
}
