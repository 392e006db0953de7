package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// WritePIDFile records the current process id at path.
func WritePIDFile(path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile deletes the pid file, ignoring a file that is already gone.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RunningPID returns the daemon's pid if the pid file names a live process.
// A stale pid file left by a crashed daemon is removed on the way.
func RunningPID(path string) (int, bool) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return 0, false
	}
	// Signal 0 probes for existence without touching the process.
	if err := unix.Kill(pid, 0); err != nil {
		RemovePIDFile(path)
		return 0, false
	}
	return pid, true
}
