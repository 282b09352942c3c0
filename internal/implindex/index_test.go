package implindex

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kingrea/implindex/internal/pubsub"
)

func mapping(component string, impls ...Descriptor) Mapping {
	if impls == nil {
		impls = []Descriptor{}
	}
	return Mapping{{Component: component, Implementors: impls}}
}

func TestRegisterBeforeOpenQueuesThenDrains(t *testing.T) {
	ix := New("core::hash::Hash")

	path := ix.Register(mapping("ServiceX", "ImplA"))
	require.Equal(t, PathQueued, path)
	require.Equal(t, 1, ix.Pending())
	require.Zero(t, ix.Len(), "registry stays empty until open")

	drained := ix.Open()
	require.Equal(t, 1, drained)
	require.Zero(t, ix.Pending())

	got, ok := ix.Lookup("ServiceX")
	require.True(t, ok)
	require.Equal(t, []Descriptor{"ImplA"}, got)
}

func TestRegisterAfterOpenAppends(t *testing.T) {
	ix := New("core::hash::Hash")
	ix.Open()

	require.Equal(t, PathDirect, ix.Register(mapping("ServiceX", "ImplA")))
	require.Equal(t, PathDirect, ix.Register(mapping("ServiceX", "ImplB")))

	got, ok := ix.Lookup("ServiceX")
	require.True(t, ok)
	require.Equal(t, []Descriptor{"ImplA", "ImplB"}, got)
	require.Equal(t, uint64(2), ix.Revision())
}

func TestEmptyImplementorListIsInstalled(t *testing.T) {
	ix := New("core::hash::Hash")
	ix.Register(mapping("ServiceX"))
	ix.Open()

	got, ok := ix.Lookup("ServiceX")
	require.True(t, ok, "declared component must be present")
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Equal(t, []string{"ServiceX"}, ix.Components())
}

func TestRerunDoublesEntries(t *testing.T) {
	ix := New("core::hash::Hash")
	ix.Open()
	frag := Fragment{Capability: "core::hash::Hash", Mapping: mapping("tokio", "UCred", "Id")}

	frag.Deliver(ix)
	frag.Deliver(ix)

	got, _ := ix.Lookup("tokio")
	require.Equal(t, []Descriptor{"UCred", "Id", "UCred", "Id"}, got)
}

func TestOpenIsIdempotent(t *testing.T) {
	ix := New("core::hash::Hash")
	ix.Register(mapping("a", "1"))
	require.Equal(t, 1, ix.Open())
	require.Equal(t, 0, ix.Open())
	got, _ := ix.Lookup("a")
	require.Equal(t, []Descriptor{"1"}, got, "second open must not re-drain")
}

func TestRegisterCopiesCallerData(t *testing.T) {
	ix := New("core::hash::Hash")
	m := mapping("a", "1")
	ix.Register(m)
	m[0].Implementors[0] = "mutated"
	ix.Open()

	got, _ := ix.Lookup("a")
	require.Equal(t, []Descriptor{"1"}, got)

	got[0] = "mutated"
	again, _ := ix.Lookup("a")
	require.Equal(t, []Descriptor{"1"}, again, "lookup must hand out copies")
}

func TestWaitUnblocksOnOpen(t *testing.T) {
	ix := New("core::hash::Hash")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- ix.Wait(ctx) }()
	ix.Open()
	require.NoError(t, <-errCh)

	stalled := New("never")
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	require.ErrorIs(t, stalled.Wait(short), context.DeadlineExceeded)
}

func TestSubscribeSeesQueueAndOpen(t *testing.T) {
	ix := New("core::hash::Hash")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := ix.Subscribe(ctx)

	ix.Register(mapping("a", "1"))
	ix.Open()
	ix.Register(mapping("b", "2"))

	want := []pubsub.EventType{pubsub.QueuedEvent, pubsub.OpenedEvent, pubsub.MergedEvent}
	for _, kind := range want {
		select {
		case evt := <-events:
			require.Equal(t, kind, evt.Type)
			require.Equal(t, "core::hash::Hash", evt.Payload.Capability)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestConcurrentRegistrationIsComplete(t *testing.T) {
	ix := New("core::hash::Hash")
	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ix.Register(mapping(fmt.Sprintf("crate-%d", i%5), Descriptor(fmt.Sprintf("w%d-%d", w, i))))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ix.Open()
	}()
	wg.Wait()

	require.Zero(t, ix.Pending())
	total := 0
	for _, name := range ix.Components() {
		impls, _ := ix.Lookup(name)
		total += len(impls)
	}
	require.Equal(t, workers*perWorker, total)
	require.Len(t, ix.Components(), 5)
}

func drawFragments(rt *rapid.T) []Mapping {
	pool := []string{"tokio", "serde", "bytes", "http"}
	n := rapid.IntRange(0, 8).Draw(rt, "fragments")
	out := make([]Mapping, n)
	for i := range out {
		comps := rapid.SliceOfNDistinct(rapid.SampledFrom(pool), 1, len(pool), rapid.ID[string]).Draw(rt, fmt.Sprintf("components-%d", i))
		m := make(Mapping, 0, len(comps))
		for _, c := range comps {
			k := rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("impls-%d-%s", i, c))
			impls := make([]Descriptor, k)
			for j := range impls {
				impls[j] = Descriptor(fmt.Sprintf("impl %d/%s/%d", i, c, j))
			}
			m = append(m, Entry{Component: c, Implementors: impls})
		}
		out[i] = m
	}
	return out
}

func TestOpenPositionDoesNotChangeResult(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		frags := drawFragments(rt)
		at := rapid.IntRange(0, len(frags)).Draw(rt, "openAt")

		reference := New("ref")
		reference.Open()
		for _, m := range frags {
			reference.Register(m)
		}

		ix := New("subject")
		for i, m := range frags {
			if i == at {
				ix.Open()
			}
			ix.Register(m)
		}
		ix.Open()

		want, _ := reference.Snapshot()
		got, _ := ix.Snapshot()
		require.Equal(rt, want, got)
		require.Zero(rt, ix.Pending())
	})
}

func TestMergeIsConcatenationInFragmentOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		frags := drawFragments(rt)
		ix := New("subject")
		for _, m := range frags {
			ix.Register(m)
		}
		ix.Open()

		expected := map[string][]Descriptor{}
		for _, m := range frags {
			for _, e := range m {
				if _, ok := expected[e.Component]; !ok {
					expected[e.Component] = []Descriptor{}
				}
				expected[e.Component] = append(expected[e.Component], e.Implementors...)
			}
		}
		require.Len(rt, ix.Components(), len(expected), "registry holds exactly the union of components")
		for name, want := range expected {
			got, ok := ix.Lookup(name)
			require.True(rt, ok)
			require.Equal(rt, want, got)
		}
	})
}
