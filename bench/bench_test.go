// Package bench provides reproducible micro-benchmarks for go-persistent.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. Set          – write-only workload (dirties a freshly ghosted object)
//  2. Get          – read-only workload after warm-up (already UpToDate)
//  3. GetParallel  – highly concurrent reads (b.RunParallel)
//  4. LoadGhost    – ghost->loaded transition cost, including the jar hop
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// © 2025 go-persistent authors. MIT License.
package bench

import (
	"encoding/binary"
	"math/rand"
	"runtime"
	"sync"
	"testing"

	persistent "github.com/Voskan/go-persistent/pkg"
)

const (
	cacheSize = 1 << 16
	keys      = 1 << 16
)

// benchJar is a minimal in-memory Jar: constant-cost Setstate/Register, no
// real I/O, so the benchmarks measure the PersistentObject/PickleCache
// overhead rather than storage latency.
type benchJar struct {
	mu     sync.Mutex
	states map[persistent.OID]map[string]any
}

func newBenchJar() *benchJar {
	return &benchJar{states: make(map[persistent.OID]map[string]any)}
}

func (j *benchJar) Setstate(obj *persistent.Object) error {
	oid, _ := obj.OID()
	j.mu.Lock()
	state, ok := j.states[oid]
	j.mu.Unlock()
	if !ok {
		state = map[string]any{"payload": "seed"}
	}
	obj.SetState(state)
	return nil
}

func (j *benchJar) Register(obj *persistent.Object) error {
	oid, _ := obj.OID()
	red, _ := obj.Reduce()
	j.mu.Lock()
	j.states[oid] = red.State
	j.mu.Unlock()
	return nil
}

func (j *benchJar) ReadCurrent(obj *persistent.Object) error { return nil }

func newTestCache() *persistent.PickleCache {
	c, err := persistent.New(persistent.WithCacheSize(cacheSize))
	if err != nil {
		panic(err)
	}
	return c
}

var ds = func() []persistent.OID {
	arr := make([]persistent.OID, keys)
	for i := range arr {
		binary.BigEndian.PutUint64(arr[i][:], rand.Uint64())
	}
	return arr
}()

func BenchmarkSet(b *testing.B) {
	c := newTestCache()
	jar := newBenchJar()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		oid := ds[i&(keys-1)]
		obj, err := c.NewGhost(oid, jar)
		if err != nil {
			continue // already present from a prior iteration over the same oid
		}
		_ = obj.Set("payload", i)
	}
}

func BenchmarkGet(b *testing.B) {
	c := newTestCache()
	jar := newBenchJar()
	for _, oid := range ds {
		obj, _ := c.NewGhost(oid, jar)
		_ = obj.Activate()
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		oid := ds[i&(keys-1)]
		obj, _ := c.Get(oid)
		_, _ = obj.Get("payload")
	}
}

func BenchmarkGetParallel(b *testing.B) {
	c := newTestCache()
	jar := newBenchJar()
	for _, oid := range ds {
		obj, _ := c.NewGhost(oid, jar)
		_ = obj.Activate()
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			obj, ok := c.Get(ds[idx])
			if ok {
				_, _ = obj.Get("payload")
			}
		}
	})
}

func BenchmarkLoadGhost(b *testing.B) {
	c := newTestCache()
	jar := newBenchJar()
	for _, oid := range ds {
		if _, err := c.NewGhost(oid, jar); err != nil {
			panic(err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		oid := ds[i&(keys-1)]
		obj, _ := c.Get(oid)
		if err := obj.Activate(); err != nil {
			b.Fatal(err)
		}
		_ = obj.Deactivate()
	}
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
