package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTag_Valid(t *testing.T) {
	for _, s := range AllStates {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, StateTag("").Valid())
	assert.False(t, StateTag("AwaitingPaymentState").Valid())
	assert.False(t, StateTag("idlestate").Valid(), "tags are case-sensitive")
}

func TestReservation_IsZero(t *testing.T) {
	assert.True(t, Reservation{}.IsZero())
	assert.False(t, Reservation{Category: "Sushi"}.IsZero())
	assert.False(t, Reservation{Guests: 2}.IsZero())
}

func TestRun_Status(t *testing.T) {
	yes, no := true, false

	var nilRun *Run
	assert.False(t, nilRun.Completed())
	assert.False(t, nilRun.Succeeded())

	inProgress := &Run{Status: RunInProgress}
	assert.False(t, inProgress.Completed())
	assert.False(t, inProgress.Succeeded())

	failed := &Run{Status: RunCompleted, Success: &no}
	assert.True(t, failed.Completed())
	assert.False(t, failed.Succeeded())

	passed := &Run{Status: RunCompleted, Success: &yes}
	assert.True(t, passed.Succeeded())
}
