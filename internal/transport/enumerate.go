package transport

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"go.bug.st/serial"
)

// SystemEnumerator lists serial devices visible to the OS.
type SystemEnumerator struct {
	// ExtraGlobs are merged into the OS list (e.g. "/dev/ttyS*").
	ExtraGlobs []string
}

func (e SystemEnumerator) Ports() ([]string, error) {
	list, err := serial.GetPortsList()
	if err != nil {
		list = globPorts(fallbackGlobs())
		if len(list) == 0 {
			return nil, fmt.Errorf("transport: enumerate ports: %w", err)
		}
	}
	if len(e.ExtraGlobs) > 0 {
		list = append(list, globPorts(e.ExtraGlobs)...)
	}
	return dedupeSorted(list), nil
}

func fallbackGlobs() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*", "/dev/cu.wchusbserial*"}
	case "windows":
		return nil
	default:
		return []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	}
}

func globPorts(globs []string) []string {
	var out []string
	for _, g := range globs {
		matches, _ := filepath.Glob(g)
		out = append(out, matches...)
	}
	return out
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
