// Package lifecycle описывает жизненный цикл подписки как конечный автомат
// с ограниченным числом повторов:
//
//	Active{n} --charged--> Active{0}
//	Active{n} --failed---> Active{n+1}, если n+1 <= max
//	Active{n} --failed---> Cancelled{n+1}, если n+1 > max
//
// Cancelled — терминальное состояние.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// ErrTerminal переход из терминального состояния.
var ErrTerminal = errors.New("subscription is in a terminal state")

// Outcome результат одной попытки списания.
type Outcome int

const (
	// Charged списание прошло.
	Charged Outcome = iota + 1
	// Failed списание не прошло (недостаточно средств, план выключен).
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Charged:
		return "charged"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// State состояние подписки, влияющее на политику повторов.
type State struct {
	Status   models.SubscriptionStatus
	Failures uint16
}

// Active активное состояние с n неудачами подряд.
func Active(n uint16) State {
	return State{Status: models.StatusActive, Failures: n}
}

// Of извлекает состояние из подписки.
func Of(s *models.UserSubscription) State {
	return State{Status: s.Status, Failures: s.FailureCount}
}

// Terminal сообщает, что переходов больше не будет.
func (s State) Terminal() bool {
	return s.Status == models.StatusCancelled
}

// Next применяет исход попытки к состоянию.
func Next(s State, o Outcome, maxFailures uint8) (State, error) {
	if s.Terminal() {
		return s, ErrTerminal
	}
	switch o {
	case Charged:
		return Active(0), nil
	case Failed:
		n := s.Failures + 1
		if n > uint16(maxFailures) {
			return State{Status: models.StatusCancelled, Failures: n}, nil
		}
		return Active(n), nil
	default:
		return s, fmt.Errorf("lifecycle.Next: unknown outcome %s", o)
	}
}

// Apply переносит состояние в подписку.
func (s State) Apply(sub *models.UserSubscription) {
	sub.Status = s.Status
	sub.FailureCount = s.Failures
}
