// Package log wraps github.com/golang/glog behind the single
// format-string call shape used throughout this repository, matching the
// util/log call sites observed across the teacher codebase
// (log.Error("...%v...", err), log.Panic("...")).
package log

import (
	"fmt"

	"github.com/golang/glog"
)

func Debug(format string, args ...interface{}) {
	glog.V(1).Infof(format, args...)
}

func Info(format string, args ...interface{}) {
	glog.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}

func Error(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

// Panic logs at error level then panics, matching call sites that treat a
// Panic as an unrecoverable startup failure (e.g. master config validation).
func Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	glog.Error(msg)
	panic(msg)
}

func Fatal(format string, args ...interface{}) {
	glog.Fatalf(format, args...)
}

// Flush flushes any pending glog buffered writes; call before process exit.
func Flush() {
	glog.Flush()
}
