package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ErrNoPIDFile is returned by Read when no pid file exists.
var ErrNoPIDFile = errors.New("pid file not found")

// PIDFile records the agent's process id.
type PIDFile struct {
	fs   afero.Fs
	path string
}

// NewPIDFile returns a pid file at path on fsys.
func NewPIDFile(fsys afero.Fs, path string) *PIDFile {
	return &PIDFile{fs: fsys, path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Write stores pid.
func (p *PIDFile) Write(pid int) error {
	return afero.WriteFile(p.fs, p.path, []byte(strconv.Itoa(pid)), 0644)
}

// Read returns the stored pid.
func (p *PIDFile) Read() (int, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoPIDFile
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID: %d", pid)
	}
	return pid, nil
}

// Remove deletes the file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	err := p.fs.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Running returns the recorded pid when that process is alive.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}
