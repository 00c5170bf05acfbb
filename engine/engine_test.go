package engine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chn0318/txengine/engine"
	"github.com/chn0318/txengine/engine/backend/memorylog"
	"github.com/chn0318/txengine/engine/objects"
)

func newTestRuntime(t *testing.T) (*engine.Runtime, *engine.Proxy) {
	t.Helper()
	m := memorylog.NewMemoryLog()
	rt := engine.NewRuntime(m, m, engine.Config{}, nil)
	proxy := rt.RegisterProxy(engine.NewStreamID(), objects.NewMap())
	return rt, proxy
}

func put(t *testing.T, ctx context.Context, rt *engine.Runtime, p *engine.Proxy, key, value string) {
	t.Helper()
	args, err := objects.MarshalPut(key, value)
	require.NoError(t, err)
	_, err = p.Mutate(ctx, rt, objects.MapMethodPut, args, []engine.ConflictParam{key})
	require.NoError(t, err)
}

func get(t *testing.T, ctx context.Context, rt *engine.Runtime, p *engine.Proxy, key string) (string, bool) {
	t.Helper()
	var value string
	var found bool
	err := p.Access(ctx, rt, []engine.ConflictParam{key}, func(obj engine.MaterializedObject) {
		m := obj.(*objects.Map)
		if raw, ok := m.Get(key); ok {
			found = true
			require.NoError(t, json.Unmarshal(raw, &value))
		}
	})
	require.NoError(t, err)
	return value, found
}

// TestSingleClientCounter is scenario S1: two sequential OPTIMISTIC
// transactions on the same key must serialize and the final value observed
// outside any transaction is the last writer's.
func TestSingleClientCounter(t *testing.T) {
	ctx := context.Background()
	rt, p := newTestRuntime(t)

	_, err := rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	_, found := get(t, ctx, rt, p, "k")
	require.False(t, found)
	put(t, ctx, rt, p, "k", "1")
	addr1, err := rt.TXEnd(ctx)
	require.NoError(t, err)

	_, err = rt.Begin(engine.OptimisticFlavor, nil)
	require.NoError(t, err)
	v, found := get(t, ctx, rt, p, "k")
	require.True(t, found)
	require.Equal(t, "1", v)
	put(t, ctx, rt, p, "k", "2")
	addr2, err := rt.TXEnd(ctx)
	require.NoError(t, err)

	require.Less(t, uint64(addr1), uint64(addr2))

	v, found = get(t, ctx, rt, p, "k")
	require.True(t, found)
	require.Equal(t, "2", v)
}
