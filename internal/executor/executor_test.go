package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupPrefixMatch(t *testing.T) {
	e := &InternalExecutor{handlers: map[string]Handler{
		"chaos-": nil,
	}}
	h, ok := e.lookup("chaos-101")
	assert.True(t, ok)
	assert.Nil(t, h)

	_, ok = e.lookup("unrelated-1")
	assert.False(t, ok)
}
