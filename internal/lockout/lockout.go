// Package lockout is the account security state machine. It decides whether a
// login attempt may reach credential verification and computes the security
// state that results from each attempt or administrative command. It performs
// no I/O; callers persist the returned state with a conditional update.
package lockout

import (
	"errors"
	"time"

	"github.com/noah-isme/mediahub-api/internal/models"
)

const (
	DefaultThreshold = 3
	DefaultWindow    = time.Hour
)

// ErrInvalidTransition is returned when an administrative command does not apply to the current status.
var ErrInvalidTransition = errors.New("lockout: invalid status transition")

// Outcome is the result of gating a login attempt.
type Outcome int

const (
	Proceed Outcome = iota
	RejectNotActivated
	RejectLocked
	RejectInactive
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case RejectNotActivated:
		return "not_activated"
	case RejectLocked:
		return "locked"
	case RejectInactive:
		return "inactive"
	}
	return "unknown"
}

// Policy is the failed-login policy: Threshold consecutive failures lock the
// account for Window.
type Policy struct {
	Threshold int
	Window    time.Duration
}

// NewPolicy builds a policy, falling back to the defaults for non-positive values.
func NewPolicy(threshold int, window time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Policy{Threshold: threshold, Window: window}
}

// Decision is the gate verdict for one attempt. State is the effective state the
// attempt continues with; it differs from the input when an expired lock was lifted.
type Decision struct {
	Outcome    Outcome
	State      models.SecurityState
	Unlocked   bool
	RetryAfter time.Duration
}

// Gate evaluates the status checks that run before the password is looked at.
func (p Policy) Gate(s models.SecurityState, now time.Time) Decision {
	switch s.Status {
	case models.StatusActive:
		return Decision{Outcome: Proceed, State: s}
	case models.StatusNotActivated:
		return Decision{Outcome: RejectNotActivated, State: s}
	case models.StatusSuspended:
		if s.LockedUntil == nil {
			// administrative suspension, lifted only by Reinstate
			return Decision{Outcome: RejectInactive, State: s}
		}
		if now.Before(*s.LockedUntil) {
			return Decision{Outcome: RejectLocked, State: s, RetryAfter: s.LockedUntil.Sub(now)}
		}
		return Decision{Outcome: Proceed, State: activeState(), Unlocked: true}
	default:
		return Decision{Outcome: RejectInactive, State: s}
	}
}

// OnSuccess returns the state after a correct password.
func (p Policy) OnSuccess(models.SecurityState) models.SecurityState {
	return activeState()
}

// Failure describes the consequence of a wrong password.
type Failure struct {
	State             models.SecurityState
	Locked            bool
	AttemptsRemaining int
	RetryAfter        time.Duration
}

// OnFailure increments the failure counter. Reaching the threshold suspends the
// account until now+Window; the counter is left at its value so that attempts
// made during the window keep being rejected by Gate.
func (p Policy) OnFailure(s models.SecurityState, now time.Time) Failure {
	count := s.FailedAttempts + 1
	if count >= p.Threshold {
		until := now.Add(p.Window)
		return Failure{
			State:      models.SecurityState{Status: models.StatusSuspended, FailedAttempts: count, LockedUntil: &until},
			Locked:     true,
			RetryAfter: p.Window,
		}
	}
	return Failure{
		State:             models.SecurityState{Status: models.StatusActive, FailedAttempts: count},
		AttemptsRemaining: p.Threshold - count,
	}
}

// Command is an administrative status change.
type Command string

const (
	CommandActivate  Command = "activate"
	CommandSuspend   Command = "suspend"
	CommandReinstate Command = "reinstate"
	CommandDelete    Command = "delete"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandActivate, CommandSuspend, CommandReinstate, CommandDelete:
		return true
	}
	return false
}

// Apply computes the state produced by an administrative command.
//
//	activate:  NOT_ACTIVATED -> ACTIVE
//	suspend:   NOT_ACTIVATED | ACTIVE | SUSPENDED -> SUSPENDED (no expiry)
//	reinstate: SUSPENDED -> ACTIVE
//	delete:    any -> DELETED
//
// Commands targeting the current status are no-ops. DELETED is terminal.
func (p Policy) Apply(s models.SecurityState, cmd Command) (models.SecurityState, error) {
	if s.Status == models.StatusDeleted && cmd != CommandDelete {
		return s, ErrInvalidTransition
	}
	switch cmd {
	case CommandActivate:
		switch s.Status {
		case models.StatusNotActivated:
			return activeState(), nil
		case models.StatusActive:
			return s, nil
		}
	case CommandSuspend:
		return models.SecurityState{Status: models.StatusSuspended}, nil
	case CommandReinstate:
		switch s.Status {
		case models.StatusSuspended:
			return activeState(), nil
		case models.StatusActive:
			return s, nil
		}
	case CommandDelete:
		return models.SecurityState{Status: models.StatusDeleted}, nil
	}
	return s, ErrInvalidTransition
}

// SessionAllowed reports whether an existing session of an account in state s
// may keep being used. A timed lockout only throttles password attempts, so it
// does not end sessions; deactivation does.
func SessionAllowed(s models.SecurityState) bool {
	switch s.Status {
	case models.StatusActive:
		return true
	case models.StatusSuspended:
		return s.LockedUntil != nil
	}
	return false
}

// Equal reports whether two states are identical, so unchanged states need not be written.
func Equal(a, b models.SecurityState) bool {
	if a.Status != b.Status || a.FailedAttempts != b.FailedAttempts {
		return false
	}
	if a.LockedUntil == nil || b.LockedUntil == nil {
		return a.LockedUntil == nil && b.LockedUntil == nil
	}
	return a.LockedUntil.Equal(*b.LockedUntil)
}

func activeState() models.SecurityState {
	return models.SecurityState{Status: models.StatusActive}
}
