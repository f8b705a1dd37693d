package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(getTestLogger(), maxAttempts)
	s.wait = time.Millisecond
	return s
}

func recorder(name string, order *[]string, requires ...string) Func {
	return Func{
		DependencyName: name,
		Requires:       requires,
		StartFunc: func(ctx context.Context) error {
			*order = append(*order, "start:"+name)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			*order = append(*order, "stop:"+name)
			return nil
		},
	}
}

func TestStartup(t *testing.T) {
	ctx := context.Background()

	t.Run("starts dependencies before dependents", func(t *testing.T) {
		var order []string
		s := newTestStartup(1)
		s.Add(recorder("migrations", &order, "database"))
		s.Add(recorder("database", &order))
		s.Add(recorder("redis", &order))

		require.NoError(t, s.Start(ctx))
		assert.Equal(t, []string{"start:database", "start:migrations", "start:redis"}, order)
		assert.Equal(t, StatusStarted, s.Status("migrations"))

		order = nil
		require.NoError(t, s.Stop(ctx))
		assert.Equal(t, []string{"stop:redis", "stop:migrations", "stop:database"}, order)
		assert.Equal(t, StatusStopped, s.Status("database"))
	})

	t.Run("retries until a dependency comes up", func(t *testing.T) {
		calls := 0
		s := newTestStartup(3)
		s.Add(Func{DependencyName: "database", StartFunc: func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		}})

		require.NoError(t, s.Start(ctx))
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		s := newTestStartup(2)
		s.Add(Func{DependencyName: "database", StartFunc: func(ctx context.Context) error {
			return errors.New("connection refused")
		}})

		err := s.Start(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "startup failed after 2 attempts")
		assert.Equal(t, StatusFailed, s.Status("database"))
	})

	t.Run("unknown and cyclic dependencies fail", func(t *testing.T) {
		s := newTestStartup(1)
		s.Add(Func{DependencyName: "api", Requires: []string{"cache"}})
		assert.ErrorContains(t, s.Start(ctx), "unknown startup dependency 'cache'")

		s = newTestStartup(1)
		s.Add(Func{DependencyName: "a", Requires: []string{"b"}})
		s.Add(Func{DependencyName: "b", Requires: []string{"a"}})
		assert.ErrorContains(t, s.Start(ctx), "cycle")
	})

	t.Run("stop skips what never started", func(t *testing.T) {
		stopped := false
		s := newTestStartup(1)
		s.Add(Func{DependencyName: "kafka", StopFunc: func(ctx context.Context) error {
			stopped = true
			return nil
		}})

		require.NoError(t, s.Stop(ctx))
		assert.False(t, stopped)
	})
}
