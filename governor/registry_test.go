package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 Registry 测试
// =============================================================================

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a, err := New("b-pool")
	require.NoError(t, err)
	b, err := New("a-pool")
	require.NoError(t, err)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	got, err := r.Get("b-pool")
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, []string{"a-pool", "b-pool"}, r.Names())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []*Governor{b, a}, r.All())
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	g, err := New("primary")
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	dup, err := New("primary")
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(dup), ErrDuplicateGovernor)
	assert.ErrorIs(t, r.Register(nil), ErrEmptyName)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrGovernorNotFound)
}

func TestRegistry_PoolsAreIndependent(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"orders", "users"} {
		g, err := New(name)
		require.NoError(t, err)
		require.NoError(t, r.Register(g))
	}

	orders, _ := r.Get("orders")
	users, _ := r.Get("users")
	orders.UpdateStats(PoolObservation{Waiting: Int64(4)})
	orders.Tick()
	users.Tick()

	assert.Equal(t, 75, orders.Config().Max)
	assert.Equal(t, 50, users.Config().Max)
}

func TestRegistry_RunAndStop(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b"} {
		g, err := New(name, WithInterval(2*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, r.Register(g))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		for _, g := range r.All() {
			if u, _ := g.History(); len(u) == 0 {
				return false
			}
		}
		return true
	}, time.Second, 2*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("registry run did not return")
	}
	r.Stop()
}

func TestRegistry_RunFailsWhenAlreadyRunning(t *testing.T) {
	r := NewRegistry()
	g, err := New("busy", WithInterval(time.Hour))
	require.NoError(t, err)
	require.NoError(t, r.Register(g))
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop()

	err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRegistry_SetPolicy(t *testing.T) {
	r := NewRegistry()
	g, err := New("primary")
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	assert.Error(t, r.SetPolicy(PolicyConfig{}))

	p := DefaultPolicyConfig()
	p.ShrinkFactor = 0.5
	require.NoError(t, r.SetPolicy(p))
	assert.Equal(t, 0.5, g.Policy().ShrinkFactor)
}
