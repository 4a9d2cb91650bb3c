package metricsvc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessions))

	c.EventHandled("chatMessage", "")
	c.EventHandled("chatMessage", "")
	c.EventHandled("chatMessage", "forbidden")
	assert.Equal(t, float64(2), testutil.ToFloat64(c.events.WithLabelValues("chatMessage", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.events.WithLabelValues("chatMessage", "forbidden")))

	c.Delivered("chatMessage", 3)
	c.Delivered("chatMessage", 0)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.delivered.WithLabelValues("chatMessage")))

	c.Dropped("userTyping")
	assert.Equal(t, float64(1), testutil.ToFloat64(c.dropped.WithLabelValues("userTyping")))

	families, err := c.Gatherer().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
