package timestamp

import "testing"

func TestRoundTripRaw(t *testing.T) {
	raw := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	ts := FromBytes(raw)
	if ts.Raw() != raw {
		t.Fatalf("Raw() = %v, want %v", ts.Raw(), raw)
	}
}

func TestFromDateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name                       string
		y, mo, d, h, mi            int
	}{
		{"year", 1899, 1, 1, 0, 0},
		{"month-low", 2024, 0, 1, 0, 0},
		{"month-high", 2024, 13, 1, 0, 0},
		{"day-low", 2024, 1, 0, 0, 0},
		{"day-high-feb-leap", 2024, 2, 30, 0, 0},
		{"hour", 2024, 1, 1, 24, 0},
		{"minute", 2024, 1, 1, 0, 60},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := FromDate(c.y, c.mo, c.d, c.h, c.mi, 0); err == nil {
				t.Fatalf("expected error for %s", c.name)
			}
		})
	}
}

func TestFromDateAcceptsLeapFeb29(t *testing.T) {
	if _, err := FromDate(2024, 2, 29, 0, 0, 0); err != nil {
		t.Fatalf("2024-02-29 should be valid: %v", err)
	}
	if _, err := FromDate(2023, 2, 29, 0, 0, 0); err == nil {
		t.Fatal("2023-02-29 should be invalid (not a leap year)")
	}
}

func TestAccessorsRoundTrip(t *testing.T) {
	ts, err := FromDate(2024, 6, 15, 12, 30, 45.5)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Year() != 2024 || ts.Month() != 6 || ts.Day() != 15 || ts.Hour() != 12 || ts.Minute() != 30 {
		t.Fatalf("unpacked fields wrong: %d-%d-%d %d:%d", ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute())
	}
	if diff := ts.Second() - 45.5; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("Second() = %v, want ~45.5", ts.Second())
	}
}

func TestOrderingIsByteLexicographic(t *testing.T) {
	a, _ := FromDate(2024, 1, 1, 0, 0, 0)
	b, _ := FromDate(2024, 1, 1, 0, 1, 0)
	if !a.Before(b) {
		t.Fatal("a should sort before b")
	}
	if !b.After(a) {
		t.Fatal("b should sort after a")
	}
	if a.Compare(a) != 0 {
		t.Fatal("a should equal itself")
	}
}

func TestLaterThanStrictlyGreater(t *testing.T) {
	a, _ := FromDate(2024, 6, 15, 12, 30, 0)
	gt := a.LaterThan(a)
	if !gt.After(a) {
		t.Fatalf("LaterThan(a) from a should be strictly greater: %v vs %v", gt, a)
	}

	later, _ := FromDate(2024, 6, 15, 12, 31, 0)
	if a.LaterThan(later) != later.increment() {
		t.Fatalf("LaterThan should return the smallest value strictly greater than a dominating operand")
	}

	bigger, _ := FromDate(2025, 1, 1, 0, 0, 0)
	if bigger.LaterThan(a) != bigger {
		t.Fatalf("LaterThan(a) from a strictly-greater bigger should return bigger unchanged")
	}
}

func TestLaterThanCarriesThroughMaxTicks(t *testing.T) {
	base, err := FromDate(2024, 6, 15, 12, 30, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Force the sub-minute ticks field to its maximum without going through
	// FromDate, so incrementing it must carry into the minutes field.
	withMaxTicks := base
	withMaxTicks[4], withMaxTicks[5], withMaxTicks[6], withMaxTicks[7] = 0xFF, 0xFF, 0xFF, 0xFF

	next := withMaxTicks.LaterThan(withMaxTicks)
	if !next.After(withMaxTicks) {
		t.Fatalf("increment must be strictly greater than its operand")
	}
	// The ticks field must wrap to zero and the minute advance, rather than
	// staying at 0xFFFFFFFF.
	if next.ticksField() != 0 {
		t.Fatalf("ticksField after carry = %#x, want 0", next.ticksField())
	}
	if next.Minute() != base.Minute()+1 {
		t.Fatalf("Minute() after carry = %d, want %d", next.Minute(), base.Minute()+1)
	}
}

func TestIsZero(t *testing.T) {
	var z TimeStamp
	if !z.IsZero() {
		t.Fatal("zero-value TimeStamp should report IsZero")
	}
	ts, _ := FromDate(2024, 1, 1, 0, 0, 0)
	if ts.IsZero() {
		t.Fatal("non-zero TimeStamp should not report IsZero")
	}
}

func TestTimeTimeMatchesKnownInstant(t *testing.T) {
	ts, err := FromDate(1970, 1, 1, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := ts.TimeTime(); got != 0 {
		t.Fatalf("TimeTime() for the epoch = %v, want 0", got)
	}
}

func TestStringFormat(t *testing.T) {
	ts, _ := FromDate(2024, 6, 15, 12, 30, 45.5)
	want := "2024-06-15 12:30:45.500000"
	if got := ts.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
