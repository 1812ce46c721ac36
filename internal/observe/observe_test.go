package observe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectDeliversToAllSubscribers(t *testing.T) {
	subj := NewSubject[int]()
	t.Cleanup(subj.Close)

	a := subj.Subscribe()
	b := subj.Subscribe()

	subj.Publish(42)

	assert.Equal(t, 42, <-a.Events())
	assert.Equal(t, 42, <-b.Events())
}

func TestSubjectDropsOldestWhenSubscriberLagsBehind(t *testing.T) {
	subj := NewSubject[int]()
	t.Cleanup(subj.Close)

	sub := subj.Subscribe()
	for i := 0; i < defaultBuffer+5; i++ {
		subj.Publish(i)
	}

	// the freshest value must still be buffered
	var last int
	for i := 0; i < defaultBuffer; i++ {
		last = <-sub.Events()
	}
	assert.Equal(t, defaultBuffer+4, last)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	subj := NewSubject[string]()
	t.Cleanup(subj.Close)

	sub := subj.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	subj.Publish("late")

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel must be closed")
}

func TestSubjectCloseCompletesSubscriptions(t *testing.T) {
	subj := NewSubject[string]()
	sub := subj.Subscribe()

	subj.Publish("one")
	subj.Close()
	subj.Publish("after close")

	require.Equal(t, "one", <-sub.Events())
	_, ok := <-sub.Events()
	assert.False(t, ok)

	// subscribing after close yields a completed subscription
	late := subj.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
}
