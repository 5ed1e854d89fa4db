package cloud

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	transient := NewTransient("CreateOrUpdateFunction", "demo-users-dev", errors.New("throttled"))
	permanent := NewPermanent("CreateOrUpdateFunction", "demo-users-dev", errors.New("access denied"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(permanent))

	// Classification survives wrapping.
	assert.True(t, IsTransient(fmt.Errorf("deploy failed: %w", transient)))

	// Unclassified errors never retry.
	assert.False(t, IsTransient(errors.New("something else")))
	assert.False(t, IsTransient(nil))
}

func TestError_Message(t *testing.T) {
	err := NewTransient("CreateOrUpdateLayer", "demo-common-dev", errors.New("throttled"))
	assert.Equal(t, "CreateOrUpdateLayer demo-common-dev: transient failure: throttled", err.Error())

	err = NewPermanent("CreateOrUpdateLayer", "demo-common-dev", errors.New("denied"))
	assert.Contains(t, err.Error(), "permanent failure")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("throttled")
	err := NewTransient("GetResourcePolicy", "demo-users-dev", cause)
	assert.ErrorIs(t, err, cause)
}
