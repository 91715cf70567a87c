package cache

import (
	"testing"

	logx "janitord/pkg/logx"
)

func TestFactoryCreateSelectsByCapability(t *testing.T) {
	t.Parallel()

	// Host object cache wins over everything else.
	f := NewFactory(Deps{Object: newFakeObjectCache(), Store: newSweepStore(t), Log: logx.Nop()}, "p_")
	if _, ok := f.Create("p_").(*Object); !ok {
		t.Fatalf("object+store deps created %T, want *Object", f.Create("p_"))
	}

	// No object cache: the durable store backs a transient fallback.
	f = NewFactory(Deps{Store: newSweepStore(t), Log: logx.Nop()}, "p_")
	if _, ok := f.Create("p_").(*Transient); !ok {
		t.Fatal("store-only deps did not create *Transient")
	}

	// No persistent layer at all: process-local memory.
	f = NewFactory(Deps{}, "p_")
	m, ok := f.Create("p_").(*Memory)
	if !ok {
		t.Fatal("empty deps did not create *Memory")
	}
	if m.prefix != "p_" {
		t.Fatalf("created prefix = %q", m.prefix)
	}
}

func TestFactoryInstanceIsLazySingleton(t *testing.T) {
	t.Parallel()
	f := NewFactory(Deps{}, "p_")

	a := f.Instance()
	b := f.Instance()
	if a != b {
		t.Fatal("Instance returned two different caches")
	}
	if m, ok := a.(*Memory); !ok || m.prefix != "p_" {
		t.Fatalf("default instance = %T with prefix %q", a, "p_")
	}
}

func TestFactorySetInstanceAndReset(t *testing.T) {
	t.Parallel()
	f := NewFactory(Deps{}, "p_")

	injected := NewNull()
	f.SetInstance(injected)
	if got := f.Instance(); got != Cache(injected) {
		t.Fatalf("Instance = %T, want the injected null cache", got)
	}

	// Reset discards the injected instance; the next Instance call creates a
	// fresh backend from deps.
	f.Reset()
	fresh := f.Instance()
	if fresh == Cache(injected) {
		t.Fatal("Reset kept the injected instance")
	}
	if _, ok := fresh.(*Memory); !ok {
		t.Fatalf("recreated instance = %T", fresh)
	}
}

func TestFactoryResetAllRestoresPrefix(t *testing.T) {
	t.Parallel()
	f := NewFactory(Deps{}, "orig_")

	f.SetDefaultPrefix("alt_")
	f.Reset()
	if m := f.Instance().(*Memory); m.prefix != "alt_" {
		t.Fatalf("prefix after SetDefaultPrefix = %q", m.prefix)
	}

	// ResetAll drops the instance and the prefix override together.
	f.ResetAll()
	if m := f.Instance().(*Memory); m.prefix != "orig_" {
		t.Fatalf("prefix after ResetAll = %q", m.prefix)
	}
}

// oddCache reports a backend type the factory does not know.
type oddCache struct{ Null }

func (oddCache) BackendType() string { return "weird" }

func TestFactoryBackendTypeIntrospection(t *testing.T) {
	t.Parallel()
	f := NewFactory(Deps{}, "p_")

	// Introspection must not create the default instance.
	if got := f.BackendType(); got != TypeNone {
		t.Fatalf("BackendType before first use = %q", got)
	}
	f.mu.Lock()
	created := f.instance != nil
	f.mu.Unlock()
	if created {
		t.Fatal("BackendType instantiated the default cache")
	}

	f.Instance()
	if got := f.BackendType(); got != TypeMemory {
		t.Fatalf("BackendType = %q, want %q", got, TypeMemory)
	}

	f.SetInstance(oddCache{})
	if got := f.BackendType(); got != TypeUnknown {
		t.Fatalf("BackendType for unrecognized backend = %q", got)
	}
}
