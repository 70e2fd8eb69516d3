// Package daemon implements the trace-streaming core: ring consumption,
// task-name and lock-path caches, per-function formatting, filtering, and
// TRACE RUN session management, built on top of the engine package.
package daemon

import "github.com/tripwire/atrace/engine"

// funcKey identifies one traced function by its (library id, LVO) pair —
// the same disambiguation the filter engine requires, since LVOs are only
// unique within a library.
type funcKey struct {
	lib engine.LibraryID
	lvo int16
}

// FuncEntry is everything the daemon needs about a traced function beyond
// what the engine tracks: its human-readable names and its rendering rule.
type FuncEntry struct {
	LibName  string
	FuncName string
	Render   FuncRenderSpec
}

// MetadataIndex resolves library/function names to engine ids and back,
// and carries the per-function render spec used by the formatter. It is
// built once, at daemon startup, from the same []engine.LibInfo tables the
// installer consumes plus a caller-supplied render-spec table.
type MetadataIndex struct {
	byKey    map[funcKey]FuncEntry
	libIDs   map[string]engine.LibraryID
	libNames map[engine.LibraryID]string
}

// NewMetadataIndex builds an index from libs (the installed function
// metadata) and specs (render rules keyed by library+function name). A
// function with no matching spec falls back to ResultDefault.
func NewMetadataIndex(libs []engine.LibInfo, specs []FuncRenderSpec) *MetadataIndex {
	idx := &MetadataIndex{
		byKey:    map[funcKey]FuncEntry{},
		libIDs:   map[string]engine.LibraryID{},
		libNames: map[engine.LibraryID]string{},
	}

	specByName := map[string]FuncRenderSpec{}
	for _, s := range specs {
		specByName[s.LibName+"."+s.FuncName] = s
	}

	for _, lib := range libs {
		idx.libIDs[lib.Name] = lib.ID
		idx.libNames[lib.ID] = lib.Name
		for _, fi := range lib.Funcs {
			key := funcKey{lib: lib.ID, lvo: fi.LVO}
			spec, ok := specByName[lib.Name+"."+fi.Name]
			if !ok {
				spec = FuncRenderSpec{Result: ResultDefault}
			}
			idx.byKey[key] = FuncEntry{LibName: lib.Name, FuncName: fi.Name, Render: spec}
		}
	}
	return idx
}

// Lookup returns the daemon-side metadata for the function at (lib, lvo).
func (m *MetadataIndex) Lookup(lib engine.LibraryID, lvo int16) (FuncEntry, bool) {
	e, ok := m.byKey[funcKey{lib: lib, lvo: lvo}]
	return e, ok
}

// LibraryID resolves a library name to its id, for filter parsing.
func (m *MetadataIndex) LibraryID(name string) (engine.LibraryID, bool) {
	id, ok := m.libIDs[name]
	return id, ok
}

// FuncLVO resolves a function name within libID to its LVO, for filter
// parsing (§4.8: "both must be set together").
func (m *MetadataIndex) FuncLVO(libID engine.LibraryID, funcName string) (int16, bool) {
	for key, e := range m.byKey {
		if key.lib == libID && e.FuncName == funcName {
			return key.lvo, true
		}
	}
	return 0, false
}
