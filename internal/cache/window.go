package cache

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// Valid reports whether Start <= End.
func (w Window) Valid() bool {
	return w.Start.IsValid() && w.End.IsValid() && !w.Start.After(w.End)
}

// Contains reports whether d lies within w.
func (w Window) Contains(d civil.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start, w.End)
}

// Covers reports whether stored already covers req.
func Covers(stored, req Window) bool {
	return !req.Start.Before(stored.Start) && !req.End.After(stored.End)
}

// Union returns the smallest window containing both a and b.
func Union(a, b Window) Window {
	u := a
	if b.Start.Before(u.Start) {
		u.Start = b.Start
	}
	if b.End.After(u.End) {
		u.End = b.End
	}
	return u
}

// FetchWindow decides what to fetch for req given what is stored.
// ok is false when stored already covers req.
func FetchWindow(stored *RecordSet, req Window) (w Window, ok bool) {
	if stored == nil {
		return req, true
	}
	have := stored.Window()
	if Covers(have, req) {
		return have, false
	}
	return Union(have, req), true
}
