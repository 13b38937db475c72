// Package xlog is a small leveled logger for fusio-manifest's background
// subsystems (orphan recovery, checkpointer, GC coordinator). It follows the
// same shape as the teacher's own ambient logger: package-level Info/Warning/
// Error helpers, a process-wide atomic verbosity level, and a FastV guard so
// list-heavy loops (orphan scans, GC's checkpoint sweep) can skip formatting
// work entirely below threshold.
package xlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Level is the logger's verbosity threshold. Higher is chattier.
type Level int32

const (
	LevelQuiet Level = iota
	LevelInfo
	LevelVerbose
	LevelDebug
)

var (
	level  atomic.Int32
	stdlog = log.New(os.Stderr, "", 0)
)

func init() {
	level.Store(int32(LevelInfo))
}

// SetLevel adjusts the process-wide verbosity. Safe for concurrent use.
func SetLevel(l Level) { level.Store(int32(l)) }

// V reports whether the given level is currently enabled. Callers on hot
// paths should guard expensive formatting with this instead of relying on
// the logger to discard the message after building it.
func V(l Level) bool { return Level(level.Load()) >= l }

// FastV is V with the smodule argument the teacher's own logger carries for
// per-subsystem filtering; fusio-manifest doesn't (yet) split verbosity by
// subsystem, so smodule is accepted and ignored — kept for call-site parity
// with the idiom callers already know.
func FastV(l Level, _smodule string) bool { return V(l) }

func prefix(sev string) string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z") + " " + sev + " "
}

func Infof(format string, args ...any) {
	if !V(LevelInfo) {
		return
	}
	stdlog.Output(2, prefix("I")+fmt.Sprintf(format, args...))
}

func Warningf(format string, args ...any) {
	stdlog.Output(2, prefix("W")+fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	stdlog.Output(2, prefix("E")+fmt.Sprintf(format, args...))
}
