package persistent

// cache.go implements PickleCache: the in-memory index from OID to Object
// plus the intrusive LRU ring (internal/ring) that governs which non-ghost
// objects get ghostified under memory pressure. There is exactly one cache
// per Jar; eviction is strict LRU with a sticky/changed skip, bounded by a
// count budget and a byte budget.
//
// The OID index does not keep objects alive on its own: entries are
// weak.Pointer, the ring's Object pointers keep live (non-ghost) members
// reachable, and runtime.AddCleanup removes a dangling ghost entry once
// nothing outside the cache can reach it. Ghosts whose only reference is
// the index can therefore actually be collected.
//
// © 2025 go-persistent authors. MIT License.

import (
	"runtime"
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/Voskan/go-persistent/internal/ring"
)

// PickleCache is the in-memory index and LRU governor for the Objects
// sharing one Jar.
type PickleCache struct {
	mu sync.Mutex

	data     map[OID]weak.Pointer[Object]
	cleanups map[OID]runtime.Cleanup

	// pinned holds entries that are never ghostified or evicted:
	// schema-like objects a host application wants permanently resident.
	pinned map[OID]*Object

	ring          *ring.Ring
	nonGhostCount int
	totalSize     int64

	// scanning guards against reentrant eviction: while a pass is in
	// progress, a nested or concurrent attempt to start another one
	// returns immediately instead of racing the first pass's placeholder
	// bookkeeping.
	scanning bool

	cfg     *config
	metrics metricsSink
	logger  *zap.Logger
}

// New constructs a PickleCache. At least one of WithCacheSize or
// WithCacheSizeBytes must be supplied.
func New(opts ...Option) (*PickleCache, error) {
	cfg := defaultConfig()
	cfg.cacheSize = 0 // force the caller to choose a budget explicitly
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}
	return &PickleCache{
		data:     make(map[OID]weak.Pointer[Object]),
		cleanups: make(map[OID]runtime.Cleanup),
		pinned:   make(map[OID]*Object),
		ring:     ring.New(),
		cfg:      cfg,
		metrics:  newMetricsSink(cfg.registry),
		logger:   cfg.logger,
	}, nil
}

// lookup returns the live object for oid without touching hit/miss metrics.
func (c *PickleCache) lookup(oid OID) (*Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.pinned[oid]; ok {
		return obj, true
	}
	wp, ok := c.data[oid]
	if !ok {
		return nil, false
	}
	obj := wp.Value()
	return obj, obj != nil
}

// Get returns the object registered under oid, whether ghost or live. The
// caller drives loading via obj.Get/obj.Activate; Get itself never touches
// the jar.
func (c *PickleCache) Get(oid OID) (*Object, bool) {
	obj, ok := c.lookup(oid)
	if !ok {
		c.metrics.incMiss()
		return nil, false
	}
	if obj.State().IsGhost() {
		c.metrics.incMiss()
	} else {
		c.metrics.incHit()
	}
	return obj, true
}

// NewGhost creates and registers a ghost object for oid, bound to jar.
// Returns ErrInvalidKey if oid is already registered.
func (c *PickleCache) NewGhost(oid OID, jar Jar) (*Object, error) {
	c.mu.Lock()
	if _, exists := c.pinned[oid]; exists {
		c.mu.Unlock()
		return nil, ErrInvalidKey
	}
	if wp, exists := c.data[oid]; exists && wp.Value() != nil {
		c.mu.Unlock()
		return nil, ErrInvalidKey
	}
	c.mu.Unlock()

	obj := NewObject()
	obj.jar = jar
	obj.oid = oid
	obj.hasOID = true
	obj.state = Ghost
	obj.cache = c

	c.install(oid, obj)
	return obj, nil
}

// Set registers obj under oid. obj must have a jar assigned, and its own
// OID, if already assigned, must equal oid. If obj is already in a cache or
// has no jar the call fails with ErrInvalidValue. Non-ghost objects are
// admitted at the ring's MRU position immediately.
func (c *PickleCache) Set(oid OID, obj *Object) error {
	if obj == nil {
		return ErrInvalidValue
	}
	obj.mu.Lock()
	if obj.jar == nil {
		obj.mu.Unlock()
		return ErrInvalidValue
	}
	if obj.hasOID && obj.oid != oid {
		obj.mu.Unlock()
		return ErrInvalidKey
	}
	if obj.cache != nil {
		obj.mu.Unlock()
		return ErrInvalidValue
	}
	obj.oid = oid
	obj.hasOID = true
	obj.cache = c
	live := !obj.state.IsGhost()
	size := int64(obj.estimatedSizeBytesLocked())
	obj.mu.Unlock()

	c.install(oid, obj)

	if live {
		c.mu.Lock()
		c.nonGhostCount++
		c.ring.PushMRU(obj)
		c.mu.Unlock()
		c.adjustSize(size)
	}
	return nil
}

// SetPinned registers obj under oid as a permanently-retained entry: never
// ghostified, never evicted, held by a strong reference. obj must not
// already belong to a cache.
func (c *PickleCache) SetPinned(oid OID, obj *Object) error {
	if obj == nil {
		return ErrInvalidValue
	}
	obj.mu.Lock()
	if obj.cache != nil {
		obj.mu.Unlock()
		return ErrInvalidValue
	}
	obj.oid = oid
	obj.hasOID = true
	obj.cache = c
	obj.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pinned[oid]; exists {
		return ErrInvalidKey
	}
	c.pinned[oid] = obj
	return nil
}

// install adds oid -> weak.Pointer(obj) to the index and arms its cleanup.
// A cleanup still armed for a previous (dead) occupant of the same oid is
// stopped so it cannot fire late and remove the fresh entry.
func (c *PickleCache) install(oid OID, obj *Object) {
	c.mu.Lock()
	if old, ok := c.cleanups[oid]; ok {
		old.Stop()
	}
	c.data[oid] = weak.Make(obj)
	c.cleanups[oid] = finalizeWithCache(obj, c, oid)
	c.mu.Unlock()
}

// Delete removes oid's entry entirely, detaching obj from the cache.
// Unlike Invalidate/Deactivate, the object no longer belongs to any cache
// afterward.
func (c *PickleCache) Delete(oid OID) error {
	c.mu.Lock()
	var obj *Object
	if wp, ok := c.data[oid]; ok {
		obj = wp.Value()
		delete(c.data, oid)
	}
	pinnedObj, isPinned := c.pinned[oid]
	if isPinned {
		delete(c.pinned, oid)
	}
	if cl, ok := c.cleanups[oid]; ok {
		cl.Stop()
		delete(c.cleanups, oid)
	}
	found := obj != nil || isPinned
	c.mu.Unlock()

	if !found {
		return ErrInvalidKey
	}
	if obj == nil {
		obj = pinnedObj
	}
	obj.detachFromCache()
	return nil
}

// Invalidate forces oid's object back to ghost, discarding any pending
// changes, without removing it from the cache's index. A no-op if oid is
// not currently resident (an unreferenced ghost has already achieved the
// same effect).
func (c *PickleCache) Invalidate(oid OID) error {
	obj, ok := c.lookup(oid)
	if !ok {
		return nil
	}
	return obj.Invalidate()
}

// InvalidateMany invalidates every listed oid, iterating in reverse order
// so invalidation callbacks observe the most recently listed entries first.
// Unregistered oids are skipped; the first error aborts the walk.
func (c *PickleCache) InvalidateMany(oids []OID) error {
	for i := len(oids) - 1; i >= 0; i-- {
		if err := c.Invalidate(oids[i]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateObjectSizeEstimation records a fresh byte estimate for oid's
// object, typically called by the jar after serializing it. The cache's
// running total adjusts only if the object is currently live.
func (c *PickleCache) UpdateObjectSizeEstimation(oid OID, size int) error {
	obj, ok := c.lookup(oid)
	if !ok {
		return ErrInvalidKey
	}
	return obj.SetEstimatedSize(size)
}

// oidUnreferenced removes oid's dangling index entry once the cleanup
// queue reports the object itself is gone. Only ghosts can reach this
// path, since live objects stay reachable through the ring.
//
// This runs on runtime.AddCleanup's own goroutine, outside any caller's
// stack. A panic here has nowhere else to surface, so it is recovered and
// logged rather than left to crash the process.
func (c *PickleCache) oidUnreferenced(oid OID) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("oid_unreferenced: recovered panic",
				zap.Any("oid", oid), zap.Any("panic", r))
		}
	}()
	c.mu.Lock()
	// The entry must be the dying object: if the slot was reoccupied between
	// this cleanup being queued and running, the live occupant stays.
	if wp, ok := c.data[oid]; ok && wp.Value() != nil {
		c.mu.Unlock()
		return
	}
	delete(c.data, oid)
	delete(c.cleanups, oid)
	c.mu.Unlock()
}

// adjustSize applies delta to the cache's tracked total estimated size and
// republishes the size/count gauges.
func (c *PickleCache) adjustSize(delta int64) {
	c.mu.Lock()
	c.totalSize += delta
	if c.totalSize < 0 {
		c.totalSize = 0
	}
	total := c.totalSize
	count := c.nonGhostCount
	c.mu.Unlock()

	c.metrics.setBytes(total)
	c.metrics.setLiveObjects(count)
}

// Len returns the number of index entries (ghost, live, and pinned).
func (c *PickleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data) + len(c.pinned)
}

// RingLen returns the current count of non-ghost (live) objects.
func (c *PickleCache) RingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonGhostCount
}

// Items returns every currently-reachable object in the index, ghost and
// live alike, in unspecified order.
func (c *PickleCache) Items() []*Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Object, 0, len(c.data)+len(c.pinned))
	for _, wp := range c.data {
		if obj := wp.Value(); obj != nil {
			out = append(out, obj)
		}
	}
	for _, obj := range c.pinned {
		out = append(out, obj)
	}
	return out
}

// LRUItems returns the live (non-ghost) objects in least-recently-used to
// most-recently-used order.
func (c *PickleCache) LRUItems() []*Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Object, 0, c.nonGhostCount)
	for n := c.ring.LRU(); n != c.ring.HomeNode(); n = ring.ScanNext(n) {
		if obj, ok := n.(*Object); ok {
			out = append(out, obj)
		}
	}
	return out
}

// KlassItems returns the pinned (permanently-retained) entries.
func (c *PickleCache) KlassItems() []*Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Object, 0, len(c.pinned))
	for _, obj := range c.pinned {
		out = append(out, obj)
	}
	return out
}

// DebugEntry is one row of PickleCache.DebugInfo.
type DebugEntry struct {
	OID           OID
	State         State
	EstimatedSize uint32
}

// DebugInfo snapshots every resident object's OID, state, and estimated
// size, for diagnostics (cmd/pcache-inspect).
func (c *PickleCache) DebugInfo() []DebugEntry {
	items := c.Items()
	out := make([]DebugEntry, 0, len(items))
	for _, obj := range items {
		oid, _ := obj.OID()
		out = append(out, DebugEntry{
			OID:           oid,
			State:         obj.State(),
			EstimatedSize: obj.EstimatedSize(),
		})
	}
	return out
}

// countTargetLocked computes the count goal a GC pass should drain toward,
// given drainResistance: 0 means drain fully to cfg.cacheSize every call;
// higher values leave a growing fraction of the current excess in place so
// deactivation spreads across many IncrGC calls instead of happening all
// at once. Returns -1 if no count budget is configured.
func (c *PickleCache) countTargetLocked() int {
	if c.cfg.cacheSize <= 0 {
		return -1
	}
	if c.nonGhostCount <= c.cfg.cacheSize || c.cfg.drainResistance <= 0 {
		return c.cfg.cacheSize
	}
	excess := c.nonGhostCount - c.cfg.cacheSize
	resisted := excess - excess/(c.cfg.drainResistance+1)
	return c.cfg.cacheSize + resisted
}

// byteTargetLocked is countTargetLocked's byte-budget counterpart. Returns
// -1 if no byte budget is configured.
func (c *PickleCache) byteTargetLocked() int64 {
	if c.cfg.cacheSizeBytes <= 0 {
		return -1
	}
	if c.totalSize <= c.cfg.cacheSizeBytes || c.cfg.drainResistance <= 0 {
		return c.cfg.cacheSizeBytes
	}
	excess := c.totalSize - c.cfg.cacheSizeBytes
	resisted := excess - excess/int64(c.cfg.drainResistance+1)
	return c.cfg.cacheSizeBytes + resisted
}

// scan walks the ring from LRU toward MRU, ghostifying eligible (UpToDate,
// non-sticky, non-changed) objects until keepGoing reports false or the
// scan reaches the MRU boundary pinned at scan start. Objects admitted to
// the ring during the scan, or passed over because they are
// Sticky/Changed, are never revisited in the same call.
//
// Guarded by the scanning flag: a call that arrives while a scan is
// already in progress -- whether reentrant (a jar callback invoked from
// inside this very scan calling back into IncrGC/FullSweep) or concurrent
// -- returns immediately rather than racing the in-progress scan's
// placeholder bookkeeping.
func (c *PickleCache) scan(keepGoing func() bool) int {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return 0
	}
	if c.ring.Empty() {
		c.mu.Unlock()
		return 0
	}
	c.scanning = true
	boundary := c.ring.PinMRUBoundary()
	cur := c.ring.LRU()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
	}()

	ghosted := 0
	for {
		c.mu.Lock()
		if cur == c.ring.HomeNode() || cur == ring.Node(boundary) || !keepGoing() {
			ring.Unlink(boundary)
			c.mu.Unlock()
			break
		}
		obj, ok := cur.(*Object)
		if !ok {
			cur = ring.ScanNext(cur)
			c.mu.Unlock()
			continue
		}
		guard := ring.GuardDeactivation(cur)
		c.mu.Unlock()

		if obj.State() == UpToDate {
			if err := obj.ghostify(); err != nil {
				c.logger.Warn("eviction scan: ghostify failed",
					zap.Error(err))
			} else {
				ghosted++
				c.metrics.incGhostify()
			}
		}

		c.mu.Lock()
		cur = ring.Resume(guard)
		c.mu.Unlock()
	}
	return ghosted
}

// IncrGC ghostifies just enough least-recently-used objects to bring the
// cache back within its configured budgets, throttled by drain resistance.
// Safe to call after every transaction boundary.
func (c *PickleCache) IncrGC() int {
	c.mu.Lock()
	countTarget := c.countTargetLocked()
	byteTarget := c.byteTargetLocked()
	c.mu.Unlock()

	return c.scan(func() bool {
		if countTarget >= 0 && c.nonGhostCount > countTarget {
			return true
		}
		if byteTarget >= 0 && c.totalSize > byteTarget {
			return true
		}
		return false
	})
}

// FullSweep ghostifies every eligible (UpToDate) object regardless of
// configured budgets. Sticky and Changed objects are left untouched.
func (c *PickleCache) FullSweep() int {
	return c.scan(func() bool { return true })
}

// Minimize is an alias for FullSweep: a sweep run as if the cache's target
// were zero, which is exactly "sweep everything eligible".
func (c *PickleCache) Minimize() int {
	return c.FullSweep()
}
