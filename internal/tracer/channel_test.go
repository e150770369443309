package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_DropsWhenFull(t *testing.T) {
	c := NewChannel(2)

	assert.True(t, c.Offer(Event{Header: EventHeader{Type: EventTypeCall}}))
	assert.True(t, c.Offer(Event{Header: EventHeader{Type: EventTypeAlloc}}))
	assert.False(t, c.Offer(Event{Header: EventHeader{Type: EventTypeFree}}))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Cap())
	assert.Equal(t, uint64(2), c.Sent())
	assert.Equal(t, uint64(1), c.Dropped())

	first := <-c.Events()
	assert.Equal(t, EventTypeCall, first.Header.Type)

	require.True(t, c.Offer(Event{Header: EventHeader{Type: EventTypeTxnEnd}}))
	assert.Equal(t, uint64(3), c.Sent())
}

func TestChannel_MinimumSize(t *testing.T) {
	c := NewChannel(0)

	assert.Equal(t, 1, c.Cap())
}
