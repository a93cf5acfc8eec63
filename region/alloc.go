package region

import (
	"cmp"
	"fmt"
	"slices"
)

// Span is a run of Count sectors starting at sector Start.
type Span struct {
	Start, Count uint32
}

// End returns the first sector past the span.
func (s Span) End() uint32 { return s.Start + s.Count }

// Overlaps reports if s and o share a sector.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End() && o.Start < s.End()
}

// Allocator hands out sector spans of a region file. It keeps a free list of holes left by
// relocated or deleted chunks and hands out the smallest hole that fits (best fit), appending
// at the end of the file when none does.
//
// Released spans are not reused straight away: they stay pending until Commit is called, which
// happens once the header that no longer references them has been written.
type Allocator struct {
	free    []Span // sorted by Start, never adjacent
	pending []Span
	end     uint32
}

// NewAllocator returns an Allocator for a file whose first reserved sectors are taken by the
// header and whose live chunks occupy the spans used. The spans must not overlap.
func NewAllocator(reserved uint32, used []Span) (*Allocator, error) {
	used = slices.Clone(used)
	slices.SortFunc(used, func(a, b Span) int { return cmp.Compare(a.Start, b.Start) })

	a := &Allocator{end: reserved}
	for i, s := range used {
		if s.Count == 0 {
			return nil, fmt.Errorf("empty span at sector %d", s.Start)
		}
		if s.Start < reserved {
			return nil, fmt.Errorf("span %v overlaps the header", s)
		}
		if i > 0 && used[i-1].Overlaps(s) {
			return nil, fmt.Errorf("span %v overlaps span %v", s, used[i-1])
		}
		if s.Start > a.end {
			a.free = append(a.free, Span{Start: a.end, Count: s.Start - a.end})
		}
		a.end = s.End()
	}
	return a, nil
}

// Allocate reserves count sectors and returns the first of them.
func (a *Allocator) Allocate(count uint32) uint32 {
	best := -1
	for i, s := range a.free {
		if s.Count >= count && (best < 0 || s.Count < a.free[best].Count) {
			best = i
			if s.Count == count {
				break
			}
		}
	}
	if best < 0 {
		start := a.end
		a.end += count
		return start
	}
	s := a.free[best]
	if s.Count == count {
		a.free = slices.Delete(a.free, best, best+1)
	} else {
		a.free[best] = Span{Start: s.Start + count, Count: s.Count - count}
	}
	return s.Start
}

// Release marks a span as no longer used. It becomes available to Allocate after the next
// Commit.
func (a *Allocator) Release(s Span) {
	if s.Count > 0 {
		a.pending = append(a.pending, s)
	}
}

// Free returns a span to the free list immediately. It is used for spans that were allocated
// but never referenced by a header written to disk.
func (a *Allocator) Free(s Span) {
	if s.Count == 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(a.free, s.Start, func(f Span, start uint32) int {
		return cmp.Compare(f.Start, start)
	})
	a.free = slices.Insert(a.free, i, s)
	// Merge with the neighbours on both sides.
	if i+1 < len(a.free) && a.free[i].End() == a.free[i+1].Start {
		a.free[i].Count += a.free[i+1].Count
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].End() == a.free[i].Start {
		a.free[i-1].Count += a.free[i].Count
		a.free = slices.Delete(a.free, i, i+1)
	}
	// A hole at the end of the used area is the same as unallocated space.
	if last := len(a.free) - 1; last >= 0 && a.free[last].End() == a.end {
		a.end = a.free[last].Start
		a.free = a.free[:last]
	}
}

// Commit moves all pending spans to the free list.
func (a *Allocator) Commit() {
	for _, s := range a.pending {
		a.Free(s)
	}
	a.pending = a.pending[:0]
}

// End returns the first sector past the last allocated one.
func (a *Allocator) End() uint32 { return a.end }

// FreeSpans returns a copy of the free list.
func (a *Allocator) FreeSpans() []Span { return slices.Clone(a.free) }

// Pending returns the number of sectors waiting for a Commit.
func (a *Allocator) Pending() (n uint32) {
	for _, s := range a.pending {
		n += s.Count
	}
	return n
}
