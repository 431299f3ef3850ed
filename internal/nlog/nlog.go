// Package nlog is the CATS logger: unbuffered (each line is written
// directly under a mutex), timestamped, leveled output
// with a small API surface so callers never reach for log.Printf directly.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevDebug severity = iota
	sevInfo
	sevWarn
	sevErr
)

var sevName = [...]byte{'D', 'I', 'W', 'E'}

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	debugOn          bool
)

// SetOutput redirects all log output; nil resets to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// SetDebug toggles Debugf/Debugln emission.
func SetDebug(enabled bool) {
	mu.Lock()
	debugOn = enabled
	mu.Unlock()
}

func write(sev severity, s string) {
	mu.Lock()
	defer mu.Unlock()
	if sev == sevDebug && !debugOn {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(out, "%c %s %s\n", sevName[sev], ts, s)
}

func Debugf(format string, args ...any) { write(sevDebug, fmt.Sprintf(format, args...)) }
func Debugln(args ...any)               { write(sevDebug, fmt.Sprintln(args...)) }
func Infof(format string, args ...any)  { write(sevInfo, fmt.Sprintf(format, args...)) }
func Infoln(args ...any)                { write(sevInfo, fmt.Sprintln(args...)) }
func Warningf(format string, args ...any) {
	write(sevWarn, fmt.Sprintf(format, args...))
}
func Warningln(args ...any)            { write(sevWarn, fmt.Sprintln(args...)) }
func Errorf(format string, args ...any) { write(sevErr, fmt.Sprintf(format, args...)) }
func Errorln(args ...any)               { write(sevErr, fmt.Sprintln(args...)) }
