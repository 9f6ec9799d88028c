package window

import (
	"slices"
	"testing"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestWindowExamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		keep     int
		h        []int
		capacity int
		reserved int
		want     []int
	}{
		{
			name: "fits unchanged", keep: 8, h: seq(5), capacity: 20, reserved: 0,
			want: seq(5),
		},
		{
			name: "exactly full", keep: 8, h: seq(20), capacity: 20, reserved: 0,
			want: seq(20),
		},
		{
			name: "structural prefix plus recent", keep: 8, h: seq(30), capacity: 20, reserved: 0,
			want: append(seq(8), 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29),
		},
		{
			name: "headroom shrinks window", keep: 2, h: seq(10), capacity: 8, reserved: 2,
			want: []int{0, 1, 6, 7, 8, 9},
		},
		{
			name: "keep larger than window", keep: 8, h: seq(10), capacity: 5, reserved: 0,
			want: seq(5),
		},
		{
			name: "no room", keep: 8, h: seq(3), capacity: 4, reserved: 4,
			want: []int{},
		},
		{
			name: "zero keep", keep: 0, h: seq(6), capacity: 3, reserved: 0,
			want: []int{3, 4, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Policy{StructuralKeep: tt.keep}
			got := p.Window(tt.h, tt.capacity, tt.reserved)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Window = %v, want %v", got, tt.want)
			}
			wantLen := min(len(tt.h), max(tt.capacity-tt.reserved, 0))
			if len(got) != wantLen {
				t.Fatalf("len = %d, want %d", len(got), wantLen)
			}
			if d := p.Dropped(len(tt.h), tt.capacity, tt.reserved); d != len(tt.h)-len(got) {
				t.Fatalf("Dropped = %d, want %d", d, len(tt.h)-len(got))
			}
		})
	}
}

func TestWindowDoesNotAliasHistory(t *testing.T) {
	t.Parallel()

	h := seq(4)
	got := Policy{StructuralKeep: 8}.Window(h, 10, 0)
	got[0] = 99
	if h[0] != 0 {
		t.Fatal("Window must return a copy")
	}
}

func TestWindowProperties(t *testing.T) {
	t.Parallel()

	p := Policy{StructuralKeep: DefaultStructuralKeep}
	for n := range 64 {
		h := seq(n)
		for capacity := 1; capacity < 40; capacity++ {
			got := p.Window(h, capacity, 0)
			if n <= capacity {
				if !slices.Equal(got, h) {
					t.Fatalf("n=%d cap=%d: expected unchanged history", n, capacity)
				}
				continue
			}
			if len(got) != capacity {
				t.Fatalf("n=%d cap=%d: len %d", n, capacity, len(got))
			}
			k := min(DefaultStructuralKeep, capacity)
			if !slices.Equal(got[:k], h[:k]) {
				t.Fatalf("n=%d cap=%d: structural prefix lost", n, capacity)
			}
			if capacity > k && got[len(got)-1] != h[n-1] {
				t.Fatalf("n=%d cap=%d: newest id missing", n, capacity)
			}
		}
	}
}

func TestTruncated(t *testing.T) {
	t.Parallel()

	if Truncated(10, 20, 10) {
		t.Fatal("10 ids fit in 20-10")
	}
	if !Truncated(11, 20, 10) {
		t.Fatal("11 ids do not fit in 20-10")
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	h := NewHistory(4)
	h.Append(1, 2)
	h.Append(3)
	if h.Len() != 3 {
		t.Fatalf("Len = %d", h.Len())
	}
	toks := h.Tokens()
	toks[0] = 42
	if h.View()[0] != 1 {
		t.Fatal("Tokens must return a copy")
	}
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("Len after Reset = %d", h.Len())
	}
}

func TestInputsFill(t *testing.T) {
	t.Parallel()

	var in Inputs
	ids, mask := in.Fill([]int{5, 6, 7}, 6, 1)
	if !slices.Equal(ids, []int{5, 6, 7, 1, 1, 1}) {
		t.Fatalf("ids = %v", ids)
	}
	if !slices.Equal(mask, []int{1, 1, 1, 0, 0, 0}) {
		t.Fatalf("mask = %v", mask)
	}

	// Reuse with a shorter window clears stale positions.
	ids, mask = in.Fill([]int{9}, 6, 1)
	if !slices.Equal(ids, []int{9, 1, 1, 1, 1, 1}) || !slices.Equal(mask, []int{1, 0, 0, 0, 0, 0}) {
		t.Fatalf("reuse: ids=%v mask=%v", ids, mask)
	}

	sum := 0
	for _, m := range mask {
		sum += m
	}
	if sum != 1 {
		t.Fatalf("sum(mask) = %d, want 1", sum)
	}

	ids, mask = in.Fill(seq(8), 6, 1)
	if len(ids) != 6 || !slices.Equal(mask, []int{1, 1, 1, 1, 1, 1}) {
		t.Fatalf("overlong window: ids=%v mask=%v", ids, mask)
	}
}
