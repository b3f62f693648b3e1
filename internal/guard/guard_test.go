package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "7:REVEALING", Key(7, "REVEALING"))
}

func TestLocalRunsOnceConcurrently(t *testing.T) {
	g := NewLocal()
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Do(context.Background(), "1:SETTLING", func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				<-release
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	ran, err := g.Do(context.Background(), "1:SETTLING", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, g.Done("1:SETTLING"))
}

func TestLocalFailedKeyCanRetry(t *testing.T) {
	g := NewLocal()
	ran, err := g.Do(context.Background(), "k", func(context.Context) error { return errors.New("db down") })
	assert.True(t, ran)
	assert.Error(t, err)
	assert.False(t, g.Done("k"))

	ran, err = g.Do(context.Background(), "k", func(context.Context) error { return nil })
	assert.True(t, ran)
	assert.NoError(t, err)
}

type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (m *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]bool{}
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memLocker) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.released = append(m.released, key)
	return nil
}

func TestDistributedAcrossReplicas(t *testing.T) {
	locker := &memLocker{}
	a := NewDistributed(locker, time.Minute, nil)
	b := NewDistributed(locker, time.Minute, nil)
	ctx := context.Background()

	ran, err := a.Do(ctx, "3:REVEALING", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = b.Do(ctx, "3:REVEALING", func(context.Context) error {
		t.Fatal("second replica must not run")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestDistributedReleasesOnFailure(t *testing.T) {
	locker := &memLocker{}
	g := NewDistributed(locker, time.Minute, nil)
	_, err := g.Do(context.Background(), "4:SETTLING", func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, []string{"4:SETTLING"}, locker.released)

	ran, err := g.Do(context.Background(), "4:SETTLING", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
