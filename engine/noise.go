package engine

// NoiseFunctions is the single, shared list of functions known to produce
// very high event rates. They are installed but disabled by default, and
// re-enabled automatically only inside a TRACE RUN session (where the
// stub-level task filter bounds the volume to one process).
//
// Recovered from original_source/atrace/main.c's noise_func_names table.
// spec.md §9 flags that the original C source kept this list in two places
// (the engine loader and the daemon) and calls for a single shared
// definition — this is that definition; both engine.Installer and
// daemon.RunController consult it instead of each keeping their own copy.
var NoiseFunctions = []string{
	"FindPort",
	"FindSemaphore",
	"FindTask",
	"GetMsg",
	"PutMsg",
	"ObtainSemaphore",
	"ReleaseSemaphore",
	"AllocMem",
}

// IsNoiseFunction reports whether name appears in NoiseFunctions.
func IsNoiseFunction(name string) bool {
	for _, n := range NoiseFunctions {
		if n == name {
			return true
		}
	}
	return false
}
