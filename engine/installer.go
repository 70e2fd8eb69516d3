package engine

import (
	"context"
	"log/slog"
	"time"
)

// LibraryOpener resolves a library by name to its function table and the
// original implementation of each of its functions. This is the Go stand-in
// for "OpenLibrary binds the library's address and keeps it resident" —
// library discovery is pluggable so tests (and the demo library) can supply
// their own, and a genuinely missing library surfaces as ErrLibraryNotFound
// without aborting the rest of the install (spec.md §7).
type LibraryOpener interface {
	// OpenLibrary returns the function table for name and a lookup that
	// resolves a FuncInfo to its current (pre-patch) implementation.
	OpenLibrary(name string) (LibInfo, func(FuncInfo) (OriginalFunc, error), error)
}

// InstallOptions configures one engine installation pass.
type InstallOptions struct {
	// RingCapacity is the ring buffer's slot count (minimum 16).
	RingCapacity uint32
	// StartDisabled sets GlobalEnable=false at install (engine loader
	// CLI's `install ... DISABLE`).
	StartDisabled bool
	// Only, if non-empty, restricts installation to these function names
	// (engine loader CLI's `install ... func...`).
	Only []string
	// RegionName overrides DefaultRegionName.
	RegionName string
}

// InstallResult reports the outcome of installing one function.
type InstallResult struct {
	Library  string
	Function string
	Err      error
}

// Installer installs one stub per entry in a set of function metadata
// tables and tracks their lifecycle (spec.md §4.4).
type Installer struct {
	Table  *VectorTable
	Region *Region
	Logger *slog.Logger

	regionName string
}

// NewInstaller creates an Installer. If logger is nil, slog.Default() is
// used, matching the teacher's nil-logger convention throughout.
func NewInstaller(logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		Table:  NewVectorTable(),
		Logger: logger,
	}
}

// InstallAll installs every function across libs and publishes the resulting
// Region under opts.RegionName (or DefaultRegionName). Installation goes by
// function index across libraries: index 0 of each library in libs order,
// then index 1, and so on, so Patches interleaves the libraries rather than
// grouping them; libs is taken in the order given, not sorted by library
// id. A single function's failure to
// install is recorded in its InstallResult and does not stop the rest
// (spec.md §4.4, §7).
func (in *Installer) InstallAll(opener LibraryOpener, libs []string, opts InstallOptions) ([]InstallResult, error) {
	if opts.RegionName == "" {
		opts.RegionName = DefaultRegionName
	}
	in.regionName = opts.RegionName

	region := NewRegion(opts.RingCapacity, opts.StartDisabled)
	in.Region = region

	var results []InstallResult

	only := map[string]bool{}
	for _, f := range opts.Only {
		only[f] = true
	}

	for funcID := 0; ; funcID++ {
		progressed := false
		for _, libName := range libs {
			lib, resolve, err := opener.OpenLibrary(libName)
			if err != nil {
				if funcID == 0 {
					results = append(results, InstallResult{Library: libName, Err: ErrLibraryNotFound})
					in.Logger.Warn("engine: library not present, skipping",
						slog.String("library", libName), slog.Any("error", err))
				}
				continue
			}
			if funcID >= len(lib.Funcs) {
				continue
			}
			progressed = true
			fi := lib.Funcs[funcID]
			if len(only) > 0 && !only[fi.Name] {
				continue
			}

			original, err := resolve(fi)
			if err != nil {
				results = append(results, InstallResult{Library: lib.Name, Function: fi.Name, Err: err})
				in.Logger.Warn("engine: allocation failure installing patch",
					slog.String("library", lib.Name), slog.String("func", fi.Name), slog.Any("error", err))
				continue
			}

			enabledDefault := !IsNoiseFunction(fi.Name)
			pd, stub := Install(lib, fi, funcID, original, region, enabledDefault)
			in.Table.Swap(fi.LVO, stub)

			region.Patches = append(region.Patches, pd)
			region.PatchCount = uint16(len(region.Patches))

			results = append(results, InstallResult{Library: lib.Name, Function: fi.Name})
			in.Logger.Info("engine: patch installed",
				slog.String("library", lib.Name), slog.String("func", fi.Name),
				slog.Bool("enabled", enabledDefault))
		}
		if !progressed {
			break
		}
	}

	if err := Register(opts.RegionName, region); err != nil {
		return results, err
	}
	return results, nil
}

// Teardown disables the engine, waits (bounded to 1s) for in-flight stub
// calls to drain, then unregisters the region's name and clears its ring.
// Stubs and patch descriptors are intentionally left resident (spec.md
// §4.1, §4.4): on this platform, unpatching is out of scope and teardown is
// best-effort.
func (in *Installer) Teardown(ctx context.Context) error {
	in.Region.GlobalEnable.Store(false)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if in.sumInFlight() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(20 * time.Millisecond):
		}
	}

	in.Region.Mu.Lock()
	defer in.Region.Mu.Unlock()

	Unregister(in.regionName)
	in.Region.Ring = nil

	in.Logger.Info("engine: teardown complete", slog.Int("in_flight_remaining", in.sumInFlight()))
	return nil
}

func (in *Installer) sumInFlight() int {
	total := 0
	for _, pd := range in.Region.Patches {
		total += int(pd.InFlight.Load())
	}
	return total
}

// Enable flips global_enable (no arguments) or enables the named functions
// atomically (spec.md §6's `ENABLE [func ...]`). Validation happens before
// any mutation so a bad name leaves every patch's state unchanged.
func (in *Installer) Enable(funcs ...string) error {
	if len(funcs) == 0 {
		in.Region.GlobalEnable.Store(true)
		return nil
	}
	patches, err := in.resolvePatches(funcs)
	if err != nil {
		return err
	}
	for _, pd := range patches {
		pd.Enabled.Store(true)
	}
	return nil
}

// Disable mirrors Enable. A no-argument DISABLE drains in-flight calls and
// then advances read_pos to write_pos so re-enabling does not immediately
// overflow on stale, already-read slots (spec.md §6).
func (in *Installer) Disable(ctx context.Context, funcs ...string) error {
	if len(funcs) == 0 {
		in.Region.GlobalEnable.Store(false)
		deadline := time.Now().Add(1 * time.Second)
		for time.Now().Before(deadline) && in.sumInFlight() > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(20 * time.Millisecond):
			}
		}
		in.Region.Ring.mu.Lock()
		in.Region.Ring.readPos = in.Region.Ring.writePos
		in.Region.Ring.overflow.swap(0)
		in.Region.Ring.mu.Unlock()
		return nil
	}
	patches, err := in.resolvePatches(funcs)
	if err != nil {
		return err
	}
	for _, pd := range patches {
		pd.Enabled.Store(false)
	}
	return nil
}

func (in *Installer) resolvePatches(funcs []string) ([]*PatchDescriptor, error) {
	want := map[string]bool{}
	for _, f := range funcs {
		want[f] = true
	}
	var out []*PatchDescriptor
	for _, pd := range in.Region.Patches {
		if want[pd.Name] {
			out = append(out, pd)
			delete(want, pd.Name)
		}
	}
	if len(want) > 0 {
		return nil, ErrLibraryNotFound
	}
	return out, nil
}
