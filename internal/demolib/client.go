package demolib

import (
	"github.com/tripwire/atrace/engine"
)

// Client is a typed, traced caller of the demo library surface: each method
// builds an engine.Call and invokes whatever is currently installed at the
// function's LVO in table — the original, or a patch's stub once the
// engine is installed. This is demolib's analogue of a program calling
// OpenLibrary/Lock/CurrentDir directly against the real AmigaOS vector
// table.
type Client struct {
	table      *engine.VectorTable
	callerTask engine.TaskHandle
	lvo        map[string]int16
}

// NewClient creates a Client that dispatches through table on behalf of
// callerTask.
func NewClient(table *engine.VectorTable, callerTask engine.TaskHandle) *Client {
	lvo := map[string]int16{}
	for _, lib := range Libraries() {
		for _, fi := range lib.Funcs {
			lvo[fi.Name] = fi.LVO
		}
	}
	return &Client{table: table, callerTask: callerTask, lvo: lvo}
}

func (c *Client) call(name string, args [4]uint32, str string) uint32 {
	stub, ok := c.table.Lookup(c.lvo[name])
	if !ok {
		return 0
	}
	return stub(engine.Call{Args: args, StringArg: str, CallerTask: c.callerTask})
}

// OpenLibrary resolves name at version, returning a non-zero base address
// if known (spec.md Scenario S1).
func (c *Client) OpenLibrary(name string, version uint32) uint32 {
	return c.call("OpenLibrary", [4]uint32{0, version}, name)
}

// FindTask returns the calling task's own handle when name is empty, the
// convention real FindTask(NULL) uses to mean "find myself".
func (c *Client) FindTask(name string) uint32 {
	return c.call("FindTask", [4]uint32{}, name)
}

// AllocMem allocates size bytes with the given exec.library flag bits.
func (c *Client) AllocMem(size, flags uint32) uint32 {
	return c.call("AllocMem", [4]uint32{size, flags}, "")
}

// Open opens path with the given dos.library access mode.
func (c *Client) Open(path string, mode uint32) uint32 {
	return c.call("Open", [4]uint32{0, mode}, path)
}

// Close closes the file handle returned by Open.
func (c *Client) Close(handle uint32) uint32 {
	return c.call("Close", [4]uint32{handle}, "")
}

// Lock claims a lock on path with the given dos.library lock mode (spec.md
// Scenario S2).
func (c *Client) Lock(path string, mode uint32) uint32 {
	return c.call("Lock", [4]uint32{0, mode}, path)
}

// CurrentDir sets the process's current directory to lock and returns the
// previously-current lock (spec.md Scenario S2).
func (c *Client) CurrentDir(lock uint32) uint32 {
	return c.call("CurrentDir", [4]uint32{lock}, "")
}

// CreateDir creates path and returns a lock on it.
func (c *Client) CreateDir(path string) uint32 {
	return c.call("CreateDir", [4]uint32{0}, path)
}

// DeleteFile removes path, returning non-zero on success.
func (c *Client) DeleteFile(path string) uint32 {
	return c.call("DeleteFile", [4]uint32{0}, path)
}
