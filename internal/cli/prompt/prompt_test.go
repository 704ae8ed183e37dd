package prompt

import (
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestValidators(t *testing.T) {
	assert.Error(t, NotEmpty("  "))
	assert.NoError(t, NotEmpty("edge"))

	assert.NoError(t, ValidUint("0"))
	assert.NoError(t, ValidUint(" 1000 "))
	assert.Error(t, ValidUint("-1"))
	assert.Error(t, ValidUint("lots"))

	assert.NoError(t, ValidPort("104"))
	assert.Error(t, ValidPort("0"))
	assert.Error(t, ValidPort("65536"))
	assert.Error(t, ValidPort("http"))
}

func TestParseYes(t *testing.T) {
	assert.True(t, ParseYes("", true))
	assert.False(t, ParseYes("", false))
	assert.True(t, ParseYes("Yes", false))
	assert.True(t, ParseYes("y", false))
	assert.False(t, ParseYes("nope", true))
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(promptui.ErrInterrupt))
	assert.True(t, IsAborted(ErrAborted))
	assert.False(t, IsAborted(nil))
	assert.Nil(t, wrapError(nil))
	assert.Equal(t, ErrAborted, wrapError(promptui.ErrAbort))
}
