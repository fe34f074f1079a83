package ring

import "testing"

type member struct {
	l    Link
	name string
}

func (m *member) RingLink() *Link { return &m.l }

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.(*member).name
	}
	return out
}

func collectMRUtoLRU(r *Ring) []Node {
	var out []Node
	for n := r.MRU(); n != r.HomeNode(); n = n.RingLink().next {
		out = append(out, n)
	}
	return out
}

func TestPushMRUOrder(t *testing.T) {
	r := New()
	a := &member{name: "A"}
	b := &member{name: "B"}
	c := &member{name: "C"}

	r.PushMRU(a)
	r.PushMRU(b)
	r.PushMRU(c)

	got := names(collectMRUtoLRU(r))
	want := []string{"C", "B", "A"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if r.LRU() != Node(a) {
		t.Fatalf("LRU = %v, want A", r.LRU())
	}
}

func TestMoveToMRU(t *testing.T) {
	r := New()
	a := &member{name: "A"}
	b := &member{name: "B"}
	c := &member{name: "C"}
	r.PushMRU(a)
	r.PushMRU(b)
	r.PushMRU(c)

	r.MoveToMRU(a)
	got := names(collectMRUtoLRU(r))
	want := []string{"A", "C", "B"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestUnlink(t *testing.T) {
	r := New()
	a := &member{name: "A"}
	b := &member{name: "B"}
	r.PushMRU(a)
	r.PushMRU(b)

	Unlink(a)
	if Linked(a) {
		t.Fatal("A should not be linked")
	}
	got := names(collectMRUtoLRU(r))
	if len(got) != 1 || got[0] != "B" {
		t.Fatalf("got %v, want [B]", got)
	}
}

func TestScanOrderMatchesLRU(t *testing.T) {
	r := New()
	a := &member{name: "A"}
	b := &member{name: "B"}
	c := &member{name: "C"}
	r.PushMRU(a) // A is MRU at this point
	r.PushMRU(b) // B is MRU
	r.PushMRU(c) // C is MRU; MRU->LRU order is C,B,A

	var order []string
	for here := r.LRU(); here != r.HomeNode(); here = ScanNext(here) {
		order = append(order, here.(*member).name)
	}
	want := []string{"A", "B", "C"}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

// TestReentrantGuardSurvivesSelfUnlink mimics scan_gc_items: walking
// LRU->MRU, guarding the current node, unlinking it (as ghostify would), and
// resuming. The resume position must be the node's former scan successor
// (its ring predecessor) even though the guarded node is gone.
func TestReentrantGuardSurvivesSelfUnlink(t *testing.T) {
	r := New()
	a := &member{name: "A"}
	b := &member{name: "B"}
	c := &member{name: "C"}
	r.PushMRU(a)
	r.PushMRU(b)
	r.PushMRU(c)

	boundary := r.PinMRUBoundary()
	defer Unlink(boundary)

	here := r.LRU() // A
	var visited []string
	for here != Node(boundary) {
		visited = append(visited, here.(*member).name)
		guard := GuardDeactivation(here)
		Unlink(here) // simulate _p_deactivate ghostifying `here`
		here = Resume(guard)
	}

	want := []string{"A", "B", "C"}
	if len(visited) != len(want) {
		t.Fatalf("got %v want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("got %v want %v", visited, want)
		}
	}
}

// TestReentrantAdmissionNotRevisited simulates an object re-admitted at MRU
// mid-scan (e.g. a sibling touched by a deactivate callback): the scan must
// not walk into it, because it lands ahead of the pinned boundary.
func TestReentrantAdmissionNotRevisited(t *testing.T) {
	r := New()
	a := &member{name: "A"}
	b := &member{name: "B"}
	r.PushMRU(a)
	r.PushMRU(b) // LRU order: A, B

	boundary := r.PinMRUBoundary()
	defer Unlink(boundary)

	intruder := &member{name: "X"}

	here := r.LRU() // A
	var visited []string
	for here != Node(boundary) {
		visited = append(visited, here.(*member).name)
		guard := GuardDeactivation(here)
		if here.(*member).name == "A" {
			// Simulate reentrant admission of a fresh member at MRU.
			r.PushMRU(intruder)
		}
		here = Resume(guard)
	}

	for _, v := range visited {
		if v == "X" {
			t.Fatalf("scan must not revisit reentrantly admitted member: %v", visited)
		}
	}
	if len(visited) != 2 {
		t.Fatalf("expected to visit A and B only, got %v", visited)
	}
}

func TestEmptyRing(t *testing.T) {
	r := New()
	if !r.Empty() {
		t.Fatal("new ring should be empty")
	}
	if r.LRU() != r.HomeNode() || r.MRU() != r.HomeNode() {
		t.Fatal("empty ring LRU/MRU should be the home sentinel")
	}
}
