package inject

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Source is an opaque declaration-site token attached to bindings and
// messages for diagnostics only.
type Source struct {
	File string
	Line int
	Func string
}

// UnknownSource is used when no declaration site is available.
var UnknownSource = Source{}

// CallerSource returns the source of the caller skip frames above the
// function calling CallerSource.
func CallerSource(skip int) Source {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return UnknownSource
	}
	src := Source{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		src.Func = fn.Name()
	}
	return src
}

// IsUnknown reports whether no location was recorded.
func (s Source) IsUnknown() bool { return s.File == "" && s.Func == "" }

func (s Source) String() string {
	if s.IsUnknown() {
		return "[unknown source]"
	}
	var b strings.Builder
	if s.Func != "" {
		b.WriteString(s.Func[strings.LastIndex(s.Func, "/")+1:])
		b.WriteString(" ")
	}
	if s.File != "" {
		b.WriteString("(")
		b.WriteString(filepath.Base(s.File))
		if s.Line > 0 {
			b.WriteString(":")
			b.WriteString(strconv.Itoa(s.Line))
		}
		b.WriteString(")")
	}
	return strings.TrimSpace(b.String())
}

// callerOutsidePackage walks up the stack to the first frame that does not
// belong to this module's declaration helpers.
func callerOutsidePackage() Source {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !isInternalFrame(f.Function) {
			return Source{File: f.File, Line: f.Line, Func: f.Function}
		}
		if !more {
			break
		}
	}
	return UnknownSource
}

const modulePath = "github.com/centraunit/inject"

var declarationPkgs = []string{
	modulePath + ".",
	modulePath + "/multibind.",
	modulePath + "/names.",
	modulePath + "/servlet.",
}

func isInternalFrame(fn string) bool {
	if strings.Contains(fn, ".Test") || strings.Contains(fn, ".Benchmark") {
		return false
	}
	for _, p := range declarationPkgs {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}
