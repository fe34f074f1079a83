// Package ring implements the intrusive doubly-linked ring used by a
// PickleCache to track its live (non-ghost) members in least-recently-used
// order.
//
// The ring never allocates a node of its own: every member embeds a Link and
// implements Node by returning a pointer to it, so insertion and removal are
// plain pointer surgery with no per-operation heap traffic. The Node
// interface keeps the scan logic and the placeholder machinery independent
// of whatever concrete type (cache member, sentinel, placeholder) occupies a
// given slot.
//
// © 2025 go-persistent authors. MIT License.
package ring

// Link is the intrusive linkage embedded in every ring member.
type Link struct {
	next, prev Node
}

// Node is implemented by anything that can occupy a slot in a Ring: real
// cache members by embedding a Link, plus the Home sentinel and the
// temporary Placeholder markers used during a reentrant eviction scan.
type Node interface {
	RingLink() *Link
}

// Home is the ring's sentinel. Home.next is the most-recently-used member;
// Home.prev is the least-recently-used member. An empty ring has both
// pointing at the Home itself.
type Home struct{ l Link }

// RingLink implements Node.
func (h *Home) RingLink() *Link { return &h.l }

// Placeholder is a non-member marker node. It is inserted and removed around
// calls into arbitrary user code (jar callbacks, _p_deactivate) so that a
// scan in progress can recover its true position even if that user code
// mutated the ring.
type Placeholder struct{ l Link }

// RingLink implements Node.
func (p *Placeholder) RingLink() *Link { return &p.l }

// Ring is a circular doubly-linked list of Nodes around a Home sentinel.
type Ring struct {
	home Home
}

// New returns an empty ring.
func New() *Ring {
	r := &Ring{}
	r.home.l.next = &r.home
	r.home.l.prev = &r.home
	return r
}

// HomeNode returns the ring's sentinel as a Node, useful for identity checks
// against values returned by MRU/LRU/Successor.
func (r *Ring) HomeNode() Node { return &r.home }

// Empty reports whether the ring has no real members.
func (r *Ring) Empty() bool { return r.home.l.next == Node(&r.home) }

// Linked reports whether n currently has ring linkage (is a member of some
// ring, not necessarily this one).
func Linked(n Node) bool { return n.RingLink().next != nil }

// insertAfter splices n into the ring immediately after mark, in the
// home->MRU->...->LRU->home traversal direction.
func insertAfter(mark, n Node) {
	ml := mark.RingLink()
	nl := n.RingLink()
	next := ml.next
	nl.next = next
	nl.prev = mark
	ml.next = n
	next.RingLink().prev = n
}

// insertBefore splices n into the ring immediately before mark, i.e. n
// becomes mark's new predecessor.
func insertBefore(mark, n Node) {
	ml := mark.RingLink()
	nl := n.RingLink()
	prev := ml.prev
	nl.prev = prev
	nl.next = mark
	ml.prev = n
	prev.RingLink().next = n
}

// Unlink removes n from whichever ring it is linked into and clears its
// linkage. A no-op if n is not currently linked.
func Unlink(n Node) {
	l := n.RingLink()
	if l.next == nil {
		return
	}
	l.prev.RingLink().next = l.next
	l.next.RingLink().prev = l.prev
	l.next = nil
	l.prev = nil
}

// PushMRU inserts n at the most-recently-used position. n must not already
// be linked.
func (r *Ring) PushMRU(n Node) {
	insertAfter(&r.home, n)
}

// MoveToMRU unlinks n (if linked) and reinserts it at the MRU position.
func (r *Ring) MoveToMRU(n Node) {
	if Linked(n) {
		Unlink(n)
	}
	r.PushMRU(n)
}

// LRU returns the current least-recently-used member, or the Home sentinel
// if the ring is empty.
func (r *Ring) LRU() Node { return r.home.l.prev }

// MRU returns the current most-recently-used member, or the Home sentinel
// if the ring is empty.
func (r *Ring) MRU() Node { return r.home.l.next }

// PinMRUBoundary inserts a Placeholder immediately at the MRU end of the
// ring, pinning the boundary between members present at scan-start and any
// member re-admitted at MRU afterwards. A scan that walks LRU->MRU and stops
// upon reaching the returned placeholder will never visit anything admitted
// to the ring after the scan began.
func (r *Ring) PinMRUBoundary() *Placeholder {
	p := &Placeholder{}
	insertAfter(&r.home, p)
	return p
}

// ScanNext returns the next node in LRU->MRU scan order, i.e. n's immediate
// predecessor in the home->MRU->...->LRU->home traversal.
func ScanNext(n Node) Node { return n.RingLink().prev }

// GuardDeactivation inserts a temporary Placeholder immediately ahead of
// (home-ward of) here, before calling into code that may deactivate or
// otherwise unlink `here`. Call Resume after such a call returns to obtain
// the correct next scan position and to remove the guard, regardless of
// whether `here` itself was unlinked or the ring was otherwise reordered
// around it.
func GuardDeactivation(here Node) *Placeholder {
	g := &Placeholder{}
	insertBefore(here, g)
	return g
}

// Resume reads the next scan position past a GuardDeactivation placeholder
// and unlinks the placeholder.
func Resume(guard *Placeholder) Node {
	next := ScanNext(guard)
	Unlink(guard)
	return next
}
