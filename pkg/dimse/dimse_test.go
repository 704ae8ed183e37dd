package dimse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStack struct{}

func (nopStack) Associate(context.Context, AssociateRequest) (Association, error) { return nil, nil }
func (nopStack) Listen(context.Context, ListenConfig, Handler) error              { return nil }

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "out_of_resources", StatusOutOfResources.String())
	assert.Equal(t, "processing_failure", StatusProcessingFailure.String())
	assert.Equal(t, "0xB000", Status(0xB000).String())
}

func TestRegistry(t *testing.T) {
	_, err := Open("registry-test")
	assert.ErrorIs(t, err, ErrNoStack)

	Register("registry-test", nopStack{})
	s, err := Open("registry-test")
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Contains(t, Stacks(), "registry-test")

	assert.Panics(t, func() { Register("registry-test", nopStack{}) })
	assert.Panics(t, func() { Register("nil-stack", nil) })
}
