package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticSize int

func (s staticSize) Size() (int, error) { return int(s), nil }

func healthy(context.Context) error { return nil }

func TestRefreshReportsEveryTarget(t *testing.T) {
	m := New(Targets{
		Postgres:   pingFunc(healthy),
		Redis:      pingFunc(healthy),
		Broker:     pingFunc(healthy),
		DeadLetter: staticSize(4),
	}, 0, nil)

	status := m.Refresh()
	assert.True(t, status.Online())
	assert.True(t, status.DeadLetter)
	assert.Equal(t, 4, status.DeadLetterSize)
	assert.True(t, m.IsOnline())
	assert.Equal(t, status, m.GetStatus())
}

func TestBrokerOutageTakesServiceOffline(t *testing.T) {
	m := New(Targets{
		Postgres: pingFunc(healthy),
		Redis:    pingFunc(healthy),
		Broker:   pingFunc(func(context.Context) error { return errors.New("nats not connected") }),
	}, 0, nil)

	status := m.Refresh()
	assert.False(t, status.Broker)
	assert.False(t, status.DeadLetter)
	assert.False(t, m.IsOnline())
}

func TestStopIsIdempotent(t *testing.T) {
	m := New(Targets{}, 0, nil)
	m.Start()
	m.Stop()
	m.Stop()
}
