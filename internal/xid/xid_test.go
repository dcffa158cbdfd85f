package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("audit")
	b := New("audit")
	assert.True(t, strings.HasPrefix(a, "audit-"), "id %s", a)
	assert.NotEqual(t, a, b)
}
