package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/config"
	"github.com/zjrosen/tessera/internal/metrics"
	"github.com/zjrosen/tessera/internal/pubsub"
	"github.com/zjrosen/tessera/internal/testutil"
	"github.com/zjrosen/tessera/internal/tracing"
)

type fixture struct {
	mgr   *Manager
	table *component.HookTable
	rec   *testutil.Recorder
}

func newFixture(t *testing.T, set *testutil.DefinitionSet, opts ...Option) *fixture {
	t.Helper()
	table := component.NewHookTable()
	f := &fixture{table: table, rec: testutil.NewRecorder(table)}
	f.mgr = New(set.Registry(), table, opts...)
	t.Cleanup(f.mgr.Close)
	return f
}

func appFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixture(t, testutil.NewDefinitionSet(t).WithAppPreset(), opts...)
}

// find returns the first snapshot node named name#key.
func find(nodes []component.NodeSnapshot, name, key string) (component.NodeSnapshot, bool) {
	for _, n := range nodes {
		if n.Component == name && n.Key == key {
			return n, true
		}
		if found, ok := find(n.Children, name, key); ok {
			return found, true
		}
	}
	return component.NodeSnapshot{}, false
}

func TestCreateRootAndDestroy(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()

	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)
	require.Equal(t, "app", root.Component)
	require.Equal(t, "mounted", root.State)
	require.Len(t, root.Deps, 2)
	require.Equal(t, []string{
		"logger#main.logger", "store#main.store", "app#main", "list#l", "row#k1", "row#k2",
	}, f.rec.Phase(component.PhaseMount))

	tree := f.mgr.QueryTree()
	require.Len(t, tree.Roots, 1)
	require.Equal(t, 6, tree.Count())
	require.Equal(t, 6, f.mgr.LiveCount())
	require.Len(t, f.mgr.Registry().LiveInstances("row"), 2)

	list, ok := find(tree.Roots, "list", "l")
	require.True(t, ok)
	items, err := f.mgr.Refs(list.ID, "items")
	require.NoError(t, err)
	require.Len(t, items, 2, "deferred ref binds the mounted rows")

	require.NoError(t, f.mgr.Destroy(ctx, root.ID))
	require.Equal(t, []string{
		"row#k2", "row#k1", "list#l", "app#main", "store#main.store", "logger#main.logger",
	}, f.rec.Phase(component.PhaseDestroy))
	require.Empty(t, f.mgr.QueryTree().Roots)
	require.Zero(t, f.mgr.LiveCount())
	require.Empty(t, f.mgr.Registry().LiveInstances("row"))
}

func TestDestroy_Idempotent(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)

	require.NoError(t, f.mgr.Destroy(ctx, root.ID))
	before := len(f.rec.Entries())
	require.NoError(t, f.mgr.Destroy(ctx, root.ID))
	require.Len(t, f.rec.Entries(), before)

	require.NoError(t, f.mgr.Destroy(ctx, component.NewInstanceID()), "any ID that is not live is already gone")

	err = f.mgr.Destroy(ctx, "no-such-id")
	require.ErrorIs(t, err, component.ErrInstanceNotFound)
}

func TestDestroy_KeepsNoHistoryAcrossRoundTrips(t *testing.T) {
	cfg := config.Defaults()
	cfg.Lifecycle.Concurrency = 4
	f := appFixture(t, WithConfig(cfg))
	ctx := context.Background()

	roundTrip := func() string {
		root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
		require.NoError(t, err)
		require.NoError(t, f.mgr.Destroy(ctx, root.ID))
		return root.ID
	}

	first := roundTrip()
	bindings := f.mgr.engine.BindingCount()
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, roundTrip())
	}

	require.Empty(t, f.mgr.index)
	require.Empty(t, f.mgr.roots)
	require.Equal(t, bindings, f.mgr.engine.BindingCount())
	for _, id := range append(ids, first) {
		require.NoError(t, f.mgr.Destroy(ctx, id))
	}
}

func TestRefs_FollowInsertAndDestroy(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)

	tree := f.mgr.QueryTree()
	list, ok := find(tree.Roots, "list", "l")
	require.True(t, ok)
	k1, ok := find(tree.Roots, "row", "k1")
	require.True(t, ok)

	require.NoError(t, f.mgr.Destroy(ctx, k1.ID))
	_, err = f.mgr.InsertChild(ctx, list.ID, component.Shape{Component: "row", Key: "k3"})
	require.NoError(t, err)

	items, err := f.mgr.Refs(list.ID, "items")
	require.NoError(t, err)
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
		require.Equal(t, "mounted", it.State)
	}
	require.Equal(t, []string{"k2", "k3"}, keys)

	_, err = f.mgr.Refs(list.ID, "missing")
	require.ErrorIs(t, err, component.ErrUnresolvedReference)
}

func TestDestroy_DependencyDestroysOwner(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)

	require.NoError(t, f.mgr.Destroy(ctx, root.Deps[0].ID))
	require.Empty(t, f.mgr.QueryTree().Roots)
}

func TestCreateRoot_MountFailureLeavesNothing(t *testing.T) {
	f := appFixture(t)
	boom := errors.New("row refused")
	f.rec.FailOn("mount:row#k2", boom)

	_, err := f.mgr.CreateRoot(context.Background(), testutil.AppShape())
	require.ErrorIs(t, err, boom)
	require.True(t, component.IsLifecycle(err))
	require.Empty(t, f.mgr.QueryTree().Roots)
	require.Zero(t, f.mgr.LiveCount())
	require.Equal(t, []string{
		"row#k1", "list#l", "app#main", "store#main.store", "logger#main.logger",
	}, f.rec.Phase(component.PhaseUnmount))
}

func TestCreateRoot_ConstructorFailureTearsDownBuiltNodes(t *testing.T) {
	set := testutil.NewDefinitionSet(t).
		With("page", testutil.Recorded()).
		With("ok", testutil.Recorded()).
		With("bad", testutil.Constructor("bad"), testutil.Recorded())
	f := newFixture(t, set)
	boom := errors.New("no value")
	require.NoError(t, f.table.RegisterFactory("bad", testutil.FailingFactory(boom)))

	_, err := f.mgr.CreateRoot(context.Background(), component.Shape{
		Component: "page", Key: "p",
		Children: []component.Shape{{Component: "ok", Key: "1"}, {Component: "bad", Key: "2"}},
	})
	require.ErrorIs(t, err, boom)
	require.True(t, component.IsBuild(err))
	require.Equal(t, []string{"ok#1", "page#p"}, f.rec.Phase(component.PhaseDestroy))
	require.Empty(t, f.rec.Phase(component.PhaseMount))
	require.Empty(t, f.mgr.QueryTree().Roots)
}

func TestCreateRoot_ResolutionErrors(t *testing.T) {
	set := testutil.NewDefinitionSet(t).
		With("a", testutil.Requires("b")).
		With("b", testutil.Requires("a"))
	f := newFixture(t, set)

	_, err := f.mgr.CreateRoot(context.Background(), component.Shape{Component: "a"})
	require.ErrorIs(t, err, component.ErrCycleDetected)
	require.True(t, component.IsResolution(err))

	_, err = f.mgr.CreateRoot(context.Background(), component.Shape{Component: "ghost"})
	require.ErrorIs(t, err, component.ErrNotFound)

	_, err = f.mgr.CreateRoot(context.Background(), component.Shape{})
	require.ErrorIs(t, err, component.ErrInvalidShape)
}

func TestCreateRoot_CancelledBeforeStart(t *testing.T) {
	f := appFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.ErrorIs(t, err, component.ErrCancelled)
	require.True(t, component.IsLifecycle(err))
	require.Empty(t, f.rec.Entries())
}

func TestCreateRoot_CancelledMidwayIsCompensated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	set := testutil.NewDefinitionSet(t).
		With("page", testutil.Recorded()).
		With("slow", testutil.Hook(component.PhaseMount, "cancel"), testutil.Recorded())
	f := newFixture(t, set)
	require.NoError(t, f.table.RegisterHook("cancel", func(context.Context, *component.Instance, any) error {
		cancel()
		return nil
	}))

	_, err := f.mgr.CreateRoot(ctx, component.Shape{
		Component: "page", Key: "p",
		Children:  []component.Shape{{Component: "slow", Key: "s"}},
	})
	require.ErrorIs(t, err, component.ErrCancelled)
	require.Equal(t, []string{"page#p", "slow#s"}, f.rec.Phase(component.PhaseMount), "work ran to completion")
	require.Equal(t, []string{"slow#s", "page#p"}, f.rec.Phase(component.PhaseDestroy))
	require.Empty(t, f.mgr.QueryTree().Roots)
	require.Zero(t, f.mgr.LiveCount())
}

func TestInsertChild(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)
	list, ok := find(f.mgr.QueryTree().Roots, "list", "l")
	require.True(t, ok)

	row, err := f.mgr.InsertChild(ctx, list.ID, component.Shape{Component: "row", Key: "k3"})
	require.NoError(t, err)
	require.Equal(t, "mounted", row.State)

	matches, err := f.mgr.Match(".item", list.ID)
	require.NoError(t, err)
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		keys = append(keys, m.Key)
	}
	require.Equal(t, []string{"k1", "k2", "k3"}, keys)

	_, err = f.mgr.InsertChild(ctx, list.ID, component.Shape{Component: "row", Key: "k1"})
	require.ErrorIs(t, err, component.ErrDuplicateKey)

	_, err = f.mgr.InsertChild(ctx, "missing", component.Shape{Component: "row"})
	require.ErrorIs(t, err, component.ErrInstanceNotFound)
}

func TestInsertChild_FailureRollsBackOnlyInsertedSubtree(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)
	f.rec.FailOn("mount:row#bad", errors.New("refused"))
	f.rec.Reset()

	_, err = f.mgr.InsertChild(ctx, root.ID, component.Shape{
		Component: "list", Key: "l2",
		Children: []component.Shape{
			{Component: "row", Key: "k3"},
			{Component: "row", Key: "bad"},
		},
	})
	require.Error(t, err)
	require.Equal(t, []string{"row#bad", "row#k3", "list#l2"}, f.rec.Phase(component.PhaseDestroy))

	tree := f.mgr.QueryTree()
	require.Equal(t, 6, tree.Count(), "original tree untouched")
	_, ok := find(tree.Roots, "list", "l2")
	require.False(t, ok)
	for _, n := range tree.Roots[0].Children {
		require.Equal(t, "mounted", n.State)
	}
}

func TestUpdate(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	events := f.mgr.Subscribe(sub, pubsub.UpdatedEvent, pubsub.FailedEvent)

	require.NoError(t, f.mgr.Update(ctx, root.ID, "payload"))
	require.Equal(t, []string{"app#main"}, f.rec.Phase(component.PhaseUpdate))

	f.rec.FailOn("update:app#main", errors.New("nope"))
	require.True(t, component.IsLifecycle(f.mgr.Update(ctx, root.ID, nil)))

	snap, err := f.mgr.Instance(root.ID)
	require.NoError(t, err)
	require.Equal(t, "mounted", snap.State)

	var got []pubsub.EventType
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			require.FailNow(t, "timeout waiting for events")
		}
	}
	require.Equal(t, []pubsub.EventType{pubsub.UpdatedEvent, pubsub.FailedEvent}, got)
}

func TestUnregister_DestroysLiveInstances(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)

	require.NoError(t, f.mgr.Unregister(ctx, "row"))
	tree := f.mgr.QueryTree()
	require.Equal(t, 4, tree.Count())
	_, ok := find(tree.Roots, "row", "k1")
	require.False(t, ok)

	require.NoError(t, f.mgr.Unregister(ctx, "logger"))
	require.Empty(t, f.mgr.QueryTree().Roots, "owned dependency takes its owner down")

	require.ErrorIs(t, f.mgr.Unregister(ctx, "logger"), component.ErrNotFound)
}

func TestRegister_ReplacementFlushesBindings(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)

	_, err = f.mgr.Match(".item", "")
	require.NoError(t, err)
	require.Positive(t, f.mgr.engine.BindingCount())

	res, err := f.mgr.Register(&component.Definition{Name: "row", Selector: ".item", Labels: []string{"v2"}})
	require.NoError(t, err)
	require.True(t, res.Replaced)
	require.Zero(t, f.mgr.engine.BindingCount())
}

func TestMatch_Global(t *testing.T) {
	f := appFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)
	_, err = f.mgr.CreateRoot(ctx, component.Shape{Component: "row", Key: "solo"})
	require.NoError(t, err)

	all, err := f.mgr.Match(".item", "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = f.mgr.Match("row >", "")
	require.ErrorIs(t, err, component.ErrInvalidSelector)
}

func TestConcurrentQueriesDuringMutation(t *testing.T) {
	f := appFixture(t, WithConfig(func() config.Config {
		cfg := config.Defaults()
		cfg.Lifecycle.Concurrency = 4
		return cfg
	}()))
	ctx := context.Background()
	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)
	list, _ := find(f.mgr.QueryTree().Roots, "list", "l")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tree := f.mgr.QueryTree()
				for _, r := range tree.Roots {
					assert.NotEmpty(t, r.State)
				}
				_, _ = f.mgr.Match(".item", "")
			}
		}()
	}

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := f.mgr.InsertChild(ctx, list.ID, component.Shape{Component: "row", Key: key})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	require.Equal(t, 11, f.mgr.QueryTree().Count())
	f.mgr.DestroyAll(ctx)
	require.Empty(t, f.mgr.QueryTree().Roots)
	_, err = f.mgr.Instance(root.ID)
	require.ErrorIs(t, err, component.ErrInstanceNotFound)
}

func TestSpansAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	promReg := prometheus.NewRegistry()
	mt, err := metrics.New(promReg)
	require.NoError(t, err)

	f := appFixture(t, WithTracer(tp.Tracer("test")), WithMetrics(mt))
	ctx := context.Background()
	root, err := f.mgr.CreateRoot(ctx, testutil.AppShape())
	require.NoError(t, err)
	require.Equal(t, 6.0, gaugeValue(t, promReg, "tessera_live_instances"))

	require.NoError(t, f.mgr.Destroy(ctx, root.ID))
	require.Equal(t, 0.0, gaugeValue(t, promReg, "tessera_live_instances"))

	names := make(map[string]int)
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	require.Equal(t, 1, names[tracing.SpanCreateRoot])
	require.Equal(t, 1, names[tracing.SpanMount])
	require.Equal(t, 1, names[tracing.SpanDestroy])
	require.Equal(t, 4, names[tracing.SpanBuild], "one build per tree node")

	_, err = f.mgr.Resolve(ctx, "ghost")
	require.ErrorIs(t, err, component.ErrNotFound)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	require.FailNow(t, "metric not found", name)
	return 0
}
