package errors

import (
	"runtime"
	"strings"
)

// ComponentUnknown is reported when no component can be determined.
const ComponentUnknown = "unknown"

const internalPrefix = "github.com/tracklist/tracklist/internal/"

// componentAliases renames packages whose directory is not the name used
// in reports.
var componentAliases = map[string]string{
	"conf": "configuration",
}

// callerComponent walks the stack to the first frame outside this package
// and names the component after its package.
func callerComponent() string {
	var pcs [24]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if c := componentOf(frame.Function); c != "" && c != "errors" {
			return c
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// componentOf maps a fully qualified function name to a component. Nested
// packages report their top-level directory, so
// internal/datastore/repository reports "datastore".
func componentOf(function string) string {
	if function == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(function, internalPrefix); ok {
		name, _, _ := strings.Cut(rest, "/")
		name, _, _ = strings.Cut(name, ".")
		if alias, ok := componentAliases[name]; ok {
			return alias
		}
		return name
	}

	// Outside the module: use the last package path element.
	pkg := function[strings.LastIndexByte(function, '/')+1:]
	pkg, _, _ = strings.Cut(pkg, ".")
	if pkg == "runtime" || pkg == "testing" {
		return ""
	}
	return pkg
}
