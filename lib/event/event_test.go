package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListeners(t *testing.T) {
	var l Listeners[string]
	assert.False(t, l.Emit("nobody"))

	var got []string
	l.Add(func(s string) { got = append(got, "first "+s) })
	l.Add(nil)
	l.Add(func(s string) {
		got = append(got, "second "+s)
		l.Add(func(s string) { got = append(got, "late "+s) })
	})

	assert.True(t, l.Emit("a"))
	assert.Equal(t, []string{"first a", "second a"}, got)
	assert.Equal(t, 3, l.Len())

	l.Clear()
	assert.False(t, l.Emit("b"))
}
