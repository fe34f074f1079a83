// Package persistent implements the client-side object layer of a
// persistent-object database: Object, the per-object state machine and
// attribute-access protocol, and PickleCache, the in-memory cache that
// governs when persistent objects are materialized and demoted back to
// ghosts.
//
// Object and PickleCache are mutually referential (object.cache,
// cache.data), so they share one package.
//
// © 2025 go-persistent authors. MIT License.
package persistent

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"

	"github.com/Voskan/go-persistent/internal/ring"
	"github.com/Voskan/go-persistent/internal/timestamp"
	"github.com/Voskan/go-persistent/internal/unsafehelpers"
)

// OID is the 8-byte object identifier. Equality and hashing are byte-exact,
// which a Go array already gives for free as a map key.
type OID [8]byte

// sizeQuantum is the byte granularity estimated sizes are quantized to.
const sizeQuantum = 64

// maxQuantized is the largest value the 24-bit stored field can hold.
const maxQuantized = 1<<24 - 1

// Object is the persistent-object mixin. Application types embed or wrap an
// *Object and drive it through Get/Set for regular attributes and the
// persistence-metadata methods below.
//
// An Object is in exactly one of four states: Ghost (durable state not
// materialized; only identity metadata resident), UpToDate, Changed, or
// Sticky. Reads and writes through Get/Set load ghosts transparently via the
// jar and record the access with the owning cache.
type Object struct {
	mu sync.Mutex // guards the fields below

	jar    Jar
	hasOID bool
	oid    OID
	cache  *PickleCache

	serial timestamp.TimeStamp

	// estimatedSizeQuantized stores the size estimate in 24 bits at 64-byte
	// granularity; the externally visible value is estimatedSizeQuantized<<6.
	estimatedSizeQuantized uint32

	state State
	link  ring.Link

	// data holds ordinary instance attributes. Keys prefixed with "_v_" are
	// volatile: writable without dirtying the object, and excluded from
	// GetState snapshots.
	data map[string]any
}

// RingLink implements ring.Node so an *Object can sit directly in a
// PickleCache's ring without a separate node allocation.
func (o *Object) RingLink() *ring.Link { return &o.link }

// NewObject returns a detached Object: no jar, no OID, not a member of any
// cache.
func NewObject() *Object {
	return &Object{state: UpToDate, data: make(map[string]any)}
}

// Jar returns the object's jar, or nil if unset.
func (o *Object) Jar() Jar {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jar
}

// SetJar assigns the object's jar. Fails with ErrImmutableField if the
// object already belongs to a cache and j differs from the current jar.
func (o *Object) SetJar(j Jar) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache != nil && o.jar != j {
		return ErrImmutableField
	}
	o.jar = j
	return nil
}

// OID returns the object's OID and whether one has been assigned.
func (o *Object) OID() (OID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.oid, o.hasOID
}

// SetOID assigns the object's OID. Fails with ErrImmutableField if the
// object already belongs to a cache and oid differs from the current one.
func (o *Object) SetOID(oid OID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cache != nil && o.hasOID && o.oid != oid {
		return ErrImmutableField
	}
	o.oid = oid
	o.hasOID = true
	return nil
}

// Cache returns the PickleCache this object belongs to, or nil if detached.
func (o *Object) Cache() *PickleCache {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache
}

// Serial returns the 8-byte transaction serial.
func (o *Object) Serial() timestamp.TimeStamp {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.serial
}

// SetSerialBytes sets the serial from a raw byte slice. A slice whose length
// is not 8 resets the serial to all-zero rather than failing.
func (o *Object) SetSerialBytes(b []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ts timestamp.TimeStamp
	if len(b) == 8 {
		var raw [8]byte
		copy(raw[:], b)
		ts = timestamp.FromBytes(raw)
	}
	o.serial = ts
}

// SetSerial sets the serial directly from a TimeStamp.
func (o *Object) SetSerial(ts timestamp.TimeStamp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.serial = ts
}

// EstimatedSize returns the object's estimated size in bytes, expanded from
// the 24-bit quantized internal field.
func (o *Object) EstimatedSize() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.estimatedSizeBytesLocked()
}

func (o *Object) estimatedSizeBytesLocked() uint32 {
	return o.estimatedSizeQuantized << 6
}

// SetEstimatedSize sets the estimated size in bytes. Negative values fail
// with ErrOutOfRange. The stored value is rounded up to the next
// sizeQuantum-byte multiple so the externally visible size never
// under-reports. If the object is currently a member of its cache's ring,
// the cache's running total is adjusted by the delta.
func (o *Object) SetEstimatedSize(n int) error {
	if n < 0 {
		return ErrOutOfRange
	}
	aligned := unsafehelpers.AlignUp(uintptr(n), sizeQuantum)
	quantized := uint32(aligned >> 6)
	if quantized > maxQuantized {
		quantized = maxQuantized
	}

	o.mu.Lock()
	old := o.estimatedSizeBytesLocked()
	o.estimatedSizeQuantized = quantized
	newVal := o.estimatedSizeBytesLocked()
	c := o.cache
	live := o.state >= 0
	o.mu.Unlock()

	if c != nil && live && ring.Linked(o) {
		c.adjustSize(int64(newVal) - int64(old))
	}
	return nil
}

// State returns the object's current state.
func (o *Object) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the lowercase status word: "unsaved" if there is no jar,
// else one of "ghost", "saved", "changed", "sticky".
func (o *Object) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.jar == nil {
		return "unsaved"
	}
	return o.state.status()
}

// Sticky reports whether the object is in the Sticky state.
func (o *Object) Sticky() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == Sticky
}

// SetSticky pins or unpins the object against eviction. Setting true
// requires a jar and fails with ErrStaleState on a ghost; setting false from
// Sticky returns to UpToDate.
func (o *Object) SetSticky(v bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if v {
		if o.state.IsGhost() {
			return ErrStaleState
		}
		if o.jar == nil {
			return ErrStaleState
		}
		o.state = Sticky
		return nil
	}
	if o.state == Sticky {
		o.state = UpToDate
	}
	return nil
}

// MTime returns the serial decoded to Unix-epoch seconds, or ok=false if
// the serial is all-zero (never saved).
func (o *Object) MTime() (seconds float64, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.serial.IsZero() {
		return 0, false
	}
	return o.serial.TimeTime(), true
}

// Changed returns nil if the object is a ghost, true if Changed, false
// otherwise.
func (o *Object) Changed() *bool {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	if state.IsGhost() {
		return nil
	}
	v := state == Changed
	return &v
}

// SetChanged drives the dirty flag:
//
//	true  - ghost->up-to-date (via load)->changed; up-to-date->changed
//	        (registers with the jar); changed->changed (no-op).
//	false - non-ghost -> UpToDate.
//	nil   - Deactivate() semantics.
func (o *Object) SetChanged(v *bool) error {
	if v == nil {
		return o.Deactivate()
	}
	if !*v {
		o.mu.Lock()
		if !o.state.IsGhost() {
			o.state = UpToDate
		}
		o.mu.Unlock()
		return nil
	}
	return o.markChanged()
}

// markChanged drives the object to Changed, loading it first if it is a
// ghost, and registering with the jar on the up-to-date->changed edge.
func (o *Object) markChanged() error {
	o.mu.Lock()
	if o.state.IsGhost() {
		o.mu.Unlock()
		if err := o.Activate(); err != nil {
			return err
		}
		o.mu.Lock()
	}
	if o.state == Changed {
		o.mu.Unlock()
		return nil
	}
	jar := o.jar
	o.mu.Unlock()

	if jar != nil {
		if err := jar.Register(o); err != nil {
			_ = o.ghostify()
			return &JarError{Op: "Register", Err: err}
		}
	}

	o.mu.Lock()
	o.state = Changed
	o.mu.Unlock()
	return nil
}

// Activate forces a ghost to load. A no-op on a non-ghost object.
func (o *Object) Activate() error {
	o.mu.Lock()
	if !o.state.IsGhost() {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return o.load()
}

// Deactivate requests the object return to ghost, never discarding dirty
// data: it is a no-op unless the object is exactly UpToDate.
func (o *Object) Deactivate() error {
	o.mu.Lock()
	if o.state != UpToDate {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return o.ghostify()
}

// Invalidate unconditionally returns the object to ghost, discarding any
// pending changes.
func (o *Object) Invalidate() error {
	o.mu.Lock()
	if o.state.IsGhost() {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return o.ghostify()
}

// load materializes a ghost: it joins the owning cache's ring at MRU, asks
// the jar for durable state, and lands in UpToDate. On jar failure the
// object is ghostified again and the error propagated.
func (o *Object) load() error {
	o.mu.Lock()
	if !o.state.IsGhost() {
		o.mu.Unlock()
		return nil
	}
	jar := o.jar
	c := o.cache
	o.mu.Unlock()

	if jar == nil {
		return nil
	}

	if c != nil {
		c.mu.Lock()
		c.nonGhostCount++
		c.ring.PushMRU(o)
		c.mu.Unlock()
		o.mu.Lock()
		size := int64(o.estimatedSizeBytesLocked())
		o.mu.Unlock()
		c.adjustSize(size)
	}

	// Block recursive load() while the jar call is outstanding.
	o.mu.Lock()
	o.state = Changed
	o.mu.Unlock()

	if err := jar.Setstate(o); err != nil {
		_ = o.ghostify()
		return &JarError{Op: "Setstate", Err: err}
	}

	o.mu.Lock()
	o.state = UpToDate
	hasCache := o.cache != nil
	o.mu.Unlock()

	if hasCache && !ring.Linked(o) {
		return &InternalInvariantError{Msg: "loaded object is not linked into its cache's ring"}
	}
	return nil
}

// ghostify is the reverse of load: leave the ring, drop the instance data,
// land in Ghost. Idempotent on an already-ghost object.
func (o *Object) ghostify() error {
	o.mu.Lock()
	if o.state.IsGhost() {
		o.mu.Unlock()
		return nil
	}
	c := o.cache
	o.mu.Unlock()

	if c != nil {
		if !ring.Linked(o) {
			return &InternalInvariantError{Msg: "ghostify on unlinked cache member"}
		}
		o.mu.Lock()
		size := int64(o.estimatedSizeBytesLocked())
		o.mu.Unlock()

		c.mu.Lock()
		c.nonGhostCount--
		ring.Unlink(o)
		c.mu.Unlock()
		c.adjustSize(-size)
	}

	o.mu.Lock()
	o.state = Ghost
	for k := range o.data {
		delete(o.data, k)
	}
	o.mu.Unlock()
	return nil
}

// detachFromCache unconditionally removes the object's cache membership:
// unlinking it from the ring (if live) and resetting it to a detached
// ghost. Called by PickleCache.Delete after the cache's own index entry
// has already been removed, so it never re-enters the cache's maps.
func (o *Object) detachFromCache() {
	o.mu.Lock()
	c := o.cache
	wasGhost := o.state.IsGhost()
	size := int64(o.estimatedSizeBytesLocked())
	o.cache = nil
	o.mu.Unlock()

	if c != nil && !wasGhost {
		c.mu.Lock()
		c.nonGhostCount--
		ring.Unlink(o)
		c.mu.Unlock()
		c.adjustSize(-size)
	}

	o.mu.Lock()
	o.state = Ghost
	for k := range o.data {
		delete(o.data, k)
	}
	o.mu.Unlock()
}

// accessed records use of the object for the cache's LRU ring. A no-op
// unless the object is live and already a ring member.
func (o *Object) accessed() {
	o.mu.Lock()
	c := o.cache
	live := o.state >= 0
	o.mu.Unlock()
	if c == nil || !live || !ring.Linked(o) {
		return
	}
	c.mu.Lock()
	c.ring.MoveToMRU(o)
	c.mu.Unlock()
}

// Get is the attribute-read hook: it loads the object if it is a ghost and
// records the access before returning the named attribute.
func (o *Object) Get(name string) (any, error) {
	o.mu.Lock()
	isGhost := o.state.IsGhost()
	o.mu.Unlock()

	if isGhost {
		if err := o.load(); err != nil {
			return nil, err
		}
	}
	o.accessed()

	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.data[name]
	if !ok {
		return nil, fmt.Errorf("persistent: no attribute %q", name)
	}
	return v, nil
}

// Set is the attribute-write hook: it ensures the object is live, records
// the access, and -- unless name is volatile ("_v_" prefixed) -- registers
// with the jar and marks Changed.
func (o *Object) Set(name string, value any) error {
	if err := o.Activate(); err != nil {
		return err
	}
	o.accessed()

	if !isVolatile(name) {
		o.mu.Lock()
		alreadyChanged := o.state == Changed
		jar := o.jar
		o.mu.Unlock()

		if !alreadyChanged {
			if jar != nil {
				if err := jar.Register(o); err != nil {
					_ = o.ghostify()
					return &JarError{Op: "Register", Err: err}
				}
			}
			o.mu.Lock()
			o.state = Changed
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	o.data[name] = value
	o.mu.Unlock()
	return nil
}

// Delete removes a named attribute, following the same dirtying rule as Set.
func (o *Object) Delete(name string) error {
	if err := o.Set(name, nil); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.data, name)
	o.mu.Unlock()
	return nil
}

func isVolatile(name string) bool {
	return len(name) >= 3 && name[0] == '_' && name[1] == 'v' && name[2] == '_'
}

// GetState returns a shallow copy of the object's non-volatile instance
// attributes, the snapshot a jar persists.
func (o *Object) GetState() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]any, len(o.data))
	for k, v := range o.data {
		if isVolatile(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// SetState replaces the object's instance attributes wholesale. A nil state
// clears them.
func (o *Object) SetState(state map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = make(map[string]any, len(state))
	for k, v := range state {
		o.data[k] = v
	}
}

// Reduction is an object flattened for storage: its OID plus a state
// snapshot a jar can serialize and later feed back through SetState.
type Reduction struct {
	OID   OID
	State map[string]any
}

// Reduce returns the object's OID and a snapshot of its state suitable for
// a jar to persist.
func (o *Object) Reduce() (Reduction, error) {
	oid, ok := o.OID()
	if !ok {
		return Reduction{}, fmt.Errorf("persistent: Reduce requires an assigned OID")
	}
	return Reduction{OID: oid, State: o.GetState()}, nil
}

// String renders "<persistent.Object object at PTR oid 0xHEX in JAR>"; the
// oid segment is omitted when none is assigned.
func (o *Object) String() string {
	o.mu.Lock()
	hasOID := o.hasOID
	oid := o.oid
	jar := o.jar
	o.mu.Unlock()

	jarRepr := "None"
	if jar != nil {
		jarRepr = fmt.Sprintf("%T", jar)
	}
	if !hasOID {
		return fmt.Sprintf("<persistent.Object object at %p in %s>", o, jarRepr)
	}
	return fmt.Sprintf("<persistent.Object object at %p oid %#x in %s>", o, binary.BigEndian.Uint64(oid[:]), jarRepr)
}

// finalizeWithCache arms the unreferenced-removal path: when the last
// external reference to a ghost object is dropped, the cache's dangling
// index entry is removed. Live objects never reach this; the ring holds
// them reachable.
func finalizeWithCache(o *Object, c *PickleCache, oid OID) runtime.Cleanup {
	return runtime.AddCleanup(o, func(args cleanupArgs) {
		args.cache.oidUnreferenced(args.oid)
	}, cleanupArgs{cache: c, oid: oid})
}

// cleanupArgs must not reference the object being cleaned up
// (runtime.AddCleanup would then never consider it unreachable).
type cleanupArgs struct {
	cache *PickleCache
	oid   OID
}
