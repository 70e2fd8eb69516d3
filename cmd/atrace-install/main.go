// Command atrace-install is the engine loader CLI spec.md §6 describes:
// STATUS, ENABLE, DISABLE, and QUIT against a running atraced instance. In
// this port the engine is installed automatically when atraced starts
// (BUFSZ and the function allow-list come from its YAML config rather than
// this CLI's install verb), so "install" here only reports whether that
// install succeeded. ENABLE/DISABLE with function names are live against the
// admin API; QUIT and the no-argument (global) ENABLE/DISABLE report an
// error, since the admin API has no route for them.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7780", "atraced admin API address")
	token := flag.String("token", os.Getenv("ATRACE_ADMIN_TOKEN"), "bearer token for the admin API (or set ATRACE_ADMIN_TOKEN)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := &client{addr: *addr, token: *token}
	cmd := strings.ToUpper(args[0])
	rest := args[1:]

	var err error
	switch cmd {
	case "INSTALL":
		err = c.install(rest)
	case "STATUS":
		err = c.status()
	case "ENABLE":
		err = c.toggle(rest, true)
	case "DISABLE":
		err = c.toggle(rest, false)
	case "QUIT":
		err = fmt.Errorf("QUIT is not available over the admin API; send SIGTERM to the atraced process to tear down the engine")
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "atrace-install: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: atrace-install [-addr host:port] [-token t] <install|STATUS|ENABLE|DISABLE|QUIT> [func ...]")
}

type client struct {
	addr  string
	token string
}

func (c *client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, "http://"+c.addr+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// install reports on the engine install atraced already performed at
// startup; it does not itself install anything (spec.md §6's BUFSZ/DISABLE/
// func-list arguments are config-file concerns in this port, not CLI ones).
func (c *client) install(args []string) error {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "note: BUFSZ/DISABLE/func arguments are ignored; configure ring_capacity, start_disabled, and libraries in atraced's YAML config instead")
	}
	return c.status()
}

func (c *client) status() error {
	resp, err := c.do(http.MethodGet, "/status", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed: %s", resp.Status)
	}

	var report struct {
		Loaded         bool   `json:"Loaded"`
		EventsProduced uint32 `json:"EventsProduced"`
		EventsConsumed uint32 `json:"EventsConsumed"`
		EventsDropped  uint64 `json:"EventsDropped"`
		BufferCapacity uint32 `json:"BufferCapacity"`
		BufferUsed     uint32 `json:"BufferUsed"`
		FilterTask     *uint  `json:"FilterTask"`
		Patches        []struct {
			Library string `json:"Library"`
			Func    string `json:"Func"`
			Enabled bool   `json:"Enabled"`
			Noise   bool   `json:"Noise"`
		} `json:"Patches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}

	fmt.Printf("loaded=%d\n", boolToInt(report.Loaded))
	if !report.Loaded {
		return nil
	}
	fmt.Printf("events_produced=%d\n", report.EventsProduced)
	fmt.Printf("events_consumed=%d\n", report.EventsConsumed)
	fmt.Printf("events_dropped=%d\n", report.EventsDropped)
	fmt.Printf("buffer_capacity=%d\n", report.BufferCapacity)
	fmt.Printf("buffer_used=%d\n", report.BufferUsed)
	if report.FilterTask != nil {
		fmt.Printf("filter_task=0x%x\n", *report.FilterTask)
	}
	for i, p := range report.Patches {
		fmt.Printf("patch_%d=%s.%s enabled=%d\n", i, p.Library, p.Func, boolToInt(p.Enabled))
	}
	return nil
}

// toggle applies ENABLE/DISABLE to every named function, or reports an error
// for the global (no-argument) form: the admin API only exposes per-function
// toggles over /patches/{name}, not the bare global_enable flip.
func (c *client) toggle(funcs []string, enabled bool) error {
	if len(funcs) == 0 {
		return fmt.Errorf("global ENABLE/DISABLE (no function names) is not exposed over the admin API; name the functions to toggle")
	}

	body, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}

	for _, fn := range funcs {
		resp, err := c.do(http.MethodPost, "/patches/"+fn, strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("toggling %s: %w", fn, err)
		}
		status := resp.StatusCode
		resp.Body.Close()
		if status != http.StatusOK {
			return fmt.Errorf("toggling %s: server returned %d", fn, status)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
