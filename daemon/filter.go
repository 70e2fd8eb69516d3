package daemon

import (
	"strings"

	"github.com/tripwire/atrace/engine"
)

// Filter is one client's AND-combined predicate set (spec.md §4.8). The
// zero value matches everything.
type Filter struct {
	libID      *engine.LibraryID
	lvo        *int16
	errorsOnly bool
	taskSub    string

	// impossible is set when a filter token named an unknown library or
	// function; such a filter matches nothing rather than erroring, per
	// spec.md §4.8/§7.
	impossible bool
}

// NewFilter returns an empty (match-everything) filter.
func NewFilter() Filter { return Filter{} }

// WithLibrary restricts the filter to events from the named library. An
// unknown name makes the filter impossible rather than reporting an error.
func (f Filter) WithLibrary(index *MetadataIndex, name string) Filter {
	id, ok := index.LibraryID(name)
	if !ok {
		f.impossible = true
		return f
	}
	f.libID = &id
	return f
}

// WithFunction restricts the filter to one function, identified by library
// name and function name together (the LVO-collision guard from spec.md
// §4.8: "both must be set together"). An unknown library/function pair
// makes the filter impossible.
func (f Filter) WithFunction(index *MetadataIndex, libName, funcName string) Filter {
	libID, ok := index.LibraryID(libName)
	if !ok {
		f.impossible = true
		return f
	}
	lvo, ok := index.FuncLVO(libID, funcName)
	if !ok {
		f.impossible = true
		return f
	}
	f.libID = &libID
	f.lvo = &lvo
	return f
}

// WithErrorsOnly restricts the filter to events whose status is 'E'.
func (f Filter) WithErrorsOnly() Filter {
	f.errorsOnly = true
	return f
}

// WithTaskSubstring restricts the filter to events whose caller-task name
// (with any "[N] " CLI prefix stripped) contains sub.
func (f Filter) WithTaskSubstring(sub string) Filter {
	f.taskSub = sub
	return f
}

// ParseFilterTokens builds a Filter from free-form "KEY=value" and
// "ERRORS" tokens (spec.md §4.8, §6). LIB= and FUNC= may appear in either
// order; when FUNC= is present without a LIB=, the function name alone
// cannot disambiguate across libraries and the filter is impossible — this
// matches the collision guard spec.md calls for. Unrecognised keywords are
// silently ignored.
func ParseFilterTokens(index *MetadataIndex, tokens []string) Filter {
	var libName, funcName string
	var haveLib, haveFunc bool
	f := NewFilter()

	for _, tok := range tokens {
		key, value, hasEq := strings.Cut(tok, "=")
		if !hasEq {
			if strings.EqualFold(tok, "ERRORS") {
				f = f.WithErrorsOnly()
			}
			continue
		}
		switch strings.ToUpper(key) {
		case "LIB":
			libName, haveLib = value, true
		case "FUNC":
			funcName, haveFunc = value, true
		case "PROC":
			f = f.WithTaskSubstring(value)
		default:
			// Unrecognised keyword: silently ignored.
		}
	}

	switch {
	case haveLib && haveFunc:
		f = f.WithFunction(index, libName, funcName)
	case haveLib:
		f = f.WithLibrary(index, libName)
	case haveFunc:
		f.impossible = true
	}

	return f
}

// Match reports whether ev passes every active predicate.
func (f Filter) Match(ev FormattedEvent) bool {
	if f.impossible {
		return false
	}
	if f.libID != nil && ev.LibID != *f.libID {
		return false
	}
	if f.lvo != nil && ev.LVO != *f.lvo {
		return false
	}
	if f.errorsOnly && ev.Status != 'E' {
		return false
	}
	if f.taskSub != "" && !strings.Contains(stripCLIPrefix(ev.TaskName), f.taskSub) {
		return false
	}
	return true
}
