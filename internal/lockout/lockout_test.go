package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mediahub-api/internal/models"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, DefaultThreshold, p.Threshold)
	assert.Equal(t, DefaultWindow, p.Window)
}

func TestGate(t *testing.T) {
	p := NewPolicy(3, time.Hour)

	tests := []struct {
		name       string
		state      models.SecurityState
		outcome    Outcome
		unlocked   bool
		retryAfter time.Duration
	}{
		{name: "active", state: models.SecurityState{Status: models.StatusActive, FailedAttempts: 1}, outcome: Proceed},
		{name: "not activated", state: models.SecurityState{Status: models.StatusNotActivated}, outcome: RejectNotActivated},
		{name: "locked", state: models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now.Add(40 * time.Minute))}, outcome: RejectLocked, retryAfter: 40 * time.Minute},
		{name: "lock elapsed exactly", state: models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now)}, outcome: Proceed, unlocked: true},
		{name: "lock elapsed", state: models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now.Add(-time.Minute))}, outcome: Proceed, unlocked: true},
		{name: "administrative suspension", state: models.SecurityState{Status: models.StatusSuspended}, outcome: RejectInactive},
		{name: "deleted", state: models.SecurityState{Status: models.StatusDeleted}, outcome: RejectInactive},
		{name: "unknown status", state: models.SecurityState{Status: "ARCHIVED"}, outcome: RejectInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Gate(tt.state, now)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.unlocked, d.Unlocked)
			assert.Equal(t, tt.retryAfter, d.RetryAfter)
		})
	}
}

func TestGateUnlockResetsState(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	d := p.Gate(models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now.Add(-time.Second))}, now)

	require.Equal(t, Proceed, d.Outcome)
	assert.Equal(t, models.StatusActive, d.State.Status)
	assert.Zero(t, d.State.FailedAttempts)
	assert.Nil(t, d.State.LockedUntil)
}

func TestOnFailureBelowThreshold(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	for attempts := 0; attempts < p.Threshold-1; attempts++ {
		f := p.OnFailure(models.SecurityState{Status: models.StatusActive, FailedAttempts: attempts}, now)

		assert.False(t, f.Locked)
		assert.Equal(t, attempts+1, f.State.FailedAttempts)
		assert.Equal(t, models.StatusActive, f.State.Status)
		assert.Nil(t, f.State.LockedUntil)
		assert.Equal(t, p.Threshold-(attempts+1), f.AttemptsRemaining)
	}
}

func TestOnFailureAtThresholdLocks(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	f := p.OnFailure(models.SecurityState{Status: models.StatusActive, FailedAttempts: 2}, now)

	require.True(t, f.Locked)
	assert.Equal(t, models.StatusSuspended, f.State.Status)
	assert.Equal(t, 3, f.State.FailedAttempts)
	require.NotNil(t, f.State.LockedUntil)
	assert.True(t, now.Add(time.Hour).Equal(*f.State.LockedUntil))
	assert.Equal(t, time.Hour, f.RetryAfter)
	assert.Zero(t, f.AttemptsRemaining)
}

func TestThreeFailuresThenLockedThenUnlock(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	state := models.SecurityState{Status: models.StatusActive}

	var last Failure
	for i := 0; i < 3; i++ {
		d := p.Gate(state, now)
		require.Equal(t, Proceed, d.Outcome)
		last = p.OnFailure(d.State, now)
		state = last.State
	}
	require.True(t, last.Locked)

	d := p.Gate(state, now.Add(59*time.Minute))
	assert.Equal(t, RejectLocked, d.Outcome)
	assert.Equal(t, 3, d.State.FailedAttempts)

	d = p.Gate(state, now.Add(time.Hour))
	require.Equal(t, Proceed, d.Outcome)
	assert.Equal(t, models.SecurityState{Status: models.StatusActive}, p.OnSuccess(d.State))
}

func TestFailureAfterUnlockStartsFromZero(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	d := p.Gate(models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now.Add(-time.Minute))}, now)
	f := p.OnFailure(d.State, now)

	assert.False(t, f.Locked)
	assert.Equal(t, 1, f.State.FailedAttempts)
	assert.Equal(t, 2, f.AttemptsRemaining)
}

func TestOnSuccessResets(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	s := p.OnSuccess(models.SecurityState{Status: models.StatusActive, FailedAttempts: 2})
	assert.Equal(t, models.SecurityState{Status: models.StatusActive}, s)
}

func TestApply(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	locked := models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now)}

	tests := []struct {
		name    string
		state   models.SecurityState
		cmd     Command
		want    models.SecurityState
		wantErr bool
	}{
		{name: "activate pending", state: models.SecurityState{Status: models.StatusNotActivated}, cmd: CommandActivate, want: models.SecurityState{Status: models.StatusActive}},
		{name: "activate active is noop", state: models.SecurityState{Status: models.StatusActive, FailedAttempts: 1}, cmd: CommandActivate, want: models.SecurityState{Status: models.StatusActive, FailedAttempts: 1}},
		{name: "activate suspended", state: locked, cmd: CommandActivate, want: locked, wantErr: true},
		{name: "suspend active", state: models.SecurityState{Status: models.StatusActive, FailedAttempts: 2}, cmd: CommandSuspend, want: models.SecurityState{Status: models.StatusSuspended}},
		{name: "suspend locked drops expiry", state: locked, cmd: CommandSuspend, want: models.SecurityState{Status: models.StatusSuspended}},
		{name: "reinstate locked", state: locked, cmd: CommandReinstate, want: models.SecurityState{Status: models.StatusActive}},
		{name: "reinstate pending", state: models.SecurityState{Status: models.StatusNotActivated}, cmd: CommandReinstate, want: models.SecurityState{Status: models.StatusNotActivated}, wantErr: true},
		{name: "delete", state: models.SecurityState{Status: models.StatusActive}, cmd: CommandDelete, want: models.SecurityState{Status: models.StatusDeleted}},
		{name: "deleted is terminal", state: models.SecurityState{Status: models.StatusDeleted}, cmd: CommandReinstate, want: models.SecurityState{Status: models.StatusDeleted}, wantErr: true},
		{name: "unknown command", state: models.SecurityState{Status: models.StatusActive}, cmd: "promote", want: models.SecurityState{Status: models.StatusActive}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Apply(tt.state, tt.cmd)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, Equal(tt.want, got), "got %+v", got)
		})
	}
}

func TestEqual(t *testing.T) {
	a := models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now)}
	b := models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now.In(time.FixedZone("x", 3600)))}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3}))
	assert.True(t, Equal(models.SecurityState{Status: models.StatusActive}, models.SecurityState{Status: models.StatusActive}))
}

func TestSessionAllowed(t *testing.T) {
	assert.True(t, SessionAllowed(models.SecurityState{Status: models.StatusActive}))
	assert.True(t, SessionAllowed(models.SecurityState{Status: models.StatusSuspended, FailedAttempts: 3, LockedUntil: ptr(now)}))
	assert.False(t, SessionAllowed(models.SecurityState{Status: models.StatusSuspended}))
	assert.False(t, SessionAllowed(models.SecurityState{Status: models.StatusDeleted}))
	assert.False(t, SessionAllowed(models.SecurityState{Status: models.StatusNotActivated}))
	assert.False(t, SessionAllowed(models.SecurityState{Status: "ARCHIVED"}))
}
