// Package core holds small daemon plumbing shared by the binaries.
package core

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var ErrProcessAlreadyRunning = errors.New("process is already running")

// LockPidFile writes the process pid into <XDG_RUNTIME_DIR>/<name>.pid.
// If the file already exists and the recorded process is alive, it returns
// ErrProcessAlreadyRunning so a second daemon instance can bail out early.
func LockPidFile(name string) error {
	if name == "" {
		return errors.New("no pidfile name passed")
	}

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	file := dir + "/" + name + ".pid"

	raw, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return writePidFile(file)
	} else if err != nil {
		return fmt.Errorf("os.ReadFile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		// stale garbage in the file, claim it
		return writePidFile(file)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("os.FindProcess: %w", err)
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil || errors.Is(err, syscall.EPERM) {
		return ErrProcessAlreadyRunning
	}

	// process gone, reuse the file
	return writePidFile(file)
}

func writePidFile(file string) error {
	err := os.WriteFile(file, []byte(strconv.Itoa(os.Getpid())), 0o644)
	if err != nil {
		return fmt.Errorf("os.WriteFile: %w", err)
	}
	return nil
}
