// Package demolib supplies a concrete set of traced target functions so the
// engine has something real to install patches on end-to-end: the actual
// exec.library and dos.library are Amiga-only and unreachable on this
// platform, so demolib stands in with the same names, LVOs, and argument
// shapes as github.com/tbdye/amigactl's atrace/funcs.c, backed by an
// in-memory virtual filesystem instead of real AmigaOS calls (spec.md
// Scenarios S1, S2).
package demolib

import (
	"github.com/tripwire/atrace/daemon"
	"github.com/tripwire/atrace/engine"
)

// Library IDs, matching the IDs already used throughout daemon's own test
// fixtures (dos.library=1, exec.library=2).
const (
	LibDOS  engine.LibraryID = 1
	LibExec engine.LibraryID = 2
)

// Libraries returns the static function tables for dos.library and
// exec.library, in the shape engine.Installer.InstallAll consumes.
func Libraries() []engine.LibInfo {
	return []engine.LibInfo{
		{
			Name: "dos.library",
			ID:   LibDOS,
			Funcs: []engine.FuncInfo{
				{Name: "Open", LVO: -30, ArgCount: 2, ArgRegs: [8]engine.RegisterIndex{engine.RegD1, engine.RegD2}, RetReg: engine.RegD0, StringArgs: 0x01},
				{Name: "Close", LVO: -36, ArgCount: 1, ArgRegs: [8]engine.RegisterIndex{engine.RegD1}, RetReg: engine.RegD0},
				{Name: "Lock", LVO: -84, ArgCount: 2, ArgRegs: [8]engine.RegisterIndex{engine.RegD1, engine.RegD2}, RetReg: engine.RegD0, StringArgs: 0x01},
				{Name: "CurrentDir", LVO: -126, ArgCount: 1, ArgRegs: [8]engine.RegisterIndex{engine.RegD1}, RetReg: engine.RegD0},
				{Name: "CreateDir", LVO: -120, ArgCount: 1, ArgRegs: [8]engine.RegisterIndex{engine.RegD1}, RetReg: engine.RegD0, StringArgs: 0x01},
				{Name: "DeleteFile", LVO: -72, ArgCount: 1, ArgRegs: [8]engine.RegisterIndex{engine.RegD1}, RetReg: engine.RegD0, StringArgs: 0x01},
			},
		},
		{
			Name: "exec.library",
			ID:   LibExec,
			Funcs: []engine.FuncInfo{
				{Name: "OpenLibrary", LVO: -552, ArgCount: 2, ArgRegs: [8]engine.RegisterIndex{engine.RegA1, engine.RegD0}, RetReg: engine.RegD0, StringArgs: 0x01},
				{Name: "FindTask", LVO: -294, ArgCount: 1, ArgRegs: [8]engine.RegisterIndex{engine.RegA1}, RetReg: engine.RegD0, StringArgs: 0x01},
				{Name: "AllocMem", LVO: -198, ArgCount: 2, ArgRegs: [8]engine.RegisterIndex{engine.RegD0, engine.RegD1}, RetReg: engine.RegD0},
			},
		},
	}
}

// RenderSpecs returns the daemon-side rendering rule for every function
// Libraries declares, for wiring into daemon.NewMetadataIndex.
func RenderSpecs() []daemon.FuncRenderSpec {
	return []daemon.FuncRenderSpec{
		{
			LibName: "dos.library", FuncName: "Open",
			ArgKinds: []daemon.ArgKind{daemon.ArgString, daemon.ArgFileMode},
			Result:   daemon.ResultPointer, Error: daemon.ErrZeroIsError,
		},
		{
			LibName: "dos.library", FuncName: "Close",
			ArgKinds: []daemon.ArgKind{daemon.ArgDefault},
			Result:   daemon.ResultDOSBool, Error: daemon.ErrZeroIsError,
		},
		{
			LibName: "dos.library", FuncName: "Lock",
			ArgKinds:          []daemon.ArgKind{daemon.ArgString, daemon.ArgLockMode},
			Result:            daemon.ResultLock, Error: daemon.ErrZeroIsError,
			PopulatesLockPath: true,
		},
		{
			LibName: "dos.library", FuncName: "CurrentDir",
			ArgKinds: []daemon.ArgKind{daemon.ArgLockValue},
			Result:   daemon.ResultOldDirLock, Error: daemon.ErrNever,
		},
		{
			LibName: "dos.library", FuncName: "CreateDir",
			ArgKinds:          []daemon.ArgKind{daemon.ArgString},
			Result:            daemon.ResultLock, Error: daemon.ErrZeroIsError,
			PopulatesLockPath: true,
		},
		{
			LibName: "dos.library", FuncName: "DeleteFile",
			ArgKinds: []daemon.ArgKind{daemon.ArgString},
			Result:   daemon.ResultDOSBool, Error: daemon.ErrZeroIsError,
		},
		{
			LibName: "exec.library", FuncName: "OpenLibrary",
			ArgKinds: []daemon.ArgKind{daemon.ArgString, daemon.ArgDefault},
			Result:   daemon.ResultPointer, Error: daemon.ErrZeroIsError,
		},
		{
			LibName: "exec.library", FuncName: "FindTask",
			ArgKinds: []daemon.ArgKind{daemon.ArgString},
			Result:   daemon.ResultPointer, Error: daemon.ErrNever,
		},
		{
			LibName: "exec.library", FuncName: "AllocMem",
			ArgKinds: []daemon.ArgKind{daemon.ArgDefault, daemon.ArgAllocFlags},
			Result:   daemon.ResultPointer, Error: daemon.ErrZeroIsError,
		},
	}
}
