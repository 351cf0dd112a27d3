package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerHook points the reported caller at the first frame outside logrus
// and this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(6, pcs)
	if frame := firstFrame(pcs[:n], isLoggingFrame); frame != nil {
		entry.Caller = frame
	}
	return nil
}

func isLoggingFrame(function string) bool {
	return strings.Contains(function, "sirupsen/logrus") || strings.Contains(function, "spreadflow/logger.")
}

// firstFrame returns the first frame for which skip is false, including the
// last frame of the stack, or nil.
func firstFrame(pcs []uintptr, skip func(function string) bool) *runtime.Frame {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if !skip(frame.Function) {
			return &frame
		}
		if !more {
			return nil
		}
	}
}
