// Package procs manages named long-running processes per project, such as
// dev servers the model starts and stops during a run.
package procs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning indicates startProcess was called for a name that
	// is already running in the project.
	ErrAlreadyRunning = errors.New("process already running")
	// ErrNotRunning indicates the named process is not running.
	ErrNotRunning = errors.New("process not running")
)

// maxLogLines bounds the per-process output ring.
const maxLogLines = 500

// Manager tracks named processes. Names are scoped per project.
type Manager struct {
	mu    sync.Mutex
	procs map[string]*process
	log   zerolog.Logger
}

type process struct {
	projectID string
	name      string
	command   string
	workDir   string
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	startedAt time.Time

	logMu sync.Mutex
	lines []string
}

// Info describes a running process.
type Info struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// NewManager creates a Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		procs: make(map[string]*process),
		log:   log,
	}
}

func key(projectID, name string) string {
	return projectID + "/" + name
}

// Start launches a named shell command in the given working directory. It
// fails with ErrAlreadyRunning if the name is taken in the project.
func (m *Manager) Start(projectID, name, command, workDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(projectID, name)
	if _, ok := m.procs[k]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	// Own process group, so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", name, err)
	}

	p := &process{
		projectID: projectID,
		name:      name,
		command:   command,
		workDir:   workDir,
		cmd:       cmd,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	m.procs[k] = p

	m.log.Info().
		Str("project", projectID).
		Str("name", name).
		Int("pid", cmd.Process.Pid).
		Msg("process started")

	go p.captureOutput(stdout)
	go m.reap(k, p)

	return nil
}

// captureOutput keeps the most recent output lines for displayLogs.
func (p *process) captureOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		p.logMu.Lock()
		p.lines = append(p.lines, scanner.Text())
		if len(p.lines) > maxLogLines {
			p.lines = p.lines[len(p.lines)-maxLogLines:]
		}
		p.logMu.Unlock()
	}
}

// reap removes the entry once the process exits on its own.
func (m *Manager) reap(k string, p *process) {
	err := p.cmd.Wait()
	m.mu.Lock()
	if current, ok := m.procs[k]; ok && current == p {
		delete(m.procs, k)
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Debug().Str("name", p.name).Err(err).Msg("process exited")
	}
}

// Stop terminates a named process. It fails with ErrNotRunning for unknown
// names.
func (m *Manager) Stop(projectID, name string) error {
	m.mu.Lock()
	p, ok := m.procs[key(projectID, name)]
	if ok {
		delete(m.procs, key(projectID, name))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	// Signal the group first; cancel the context as a fallback kill.
	if p.cmd.Process != nil {
		syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
	}
	p.cancel()

	m.log.Info().Str("project", projectID).Str("name", name).Msg("process stopped")
	return nil
}

// Restart stops and relaunches a named process with its original command.
func (m *Manager) Restart(projectID, name string) error {
	m.mu.Lock()
	p, ok := m.procs[key(projectID, name)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	command, workDir := p.command, p.workDir
	if err := m.Stop(projectID, name); err != nil {
		return err
	}
	// Give the old process group a moment to release ports.
	time.Sleep(200 * time.Millisecond)
	return m.Start(projectID, name, command, workDir)
}

// Logs returns up to n recent output lines of a named process.
func (m *Manager) Logs(projectID, name string, n int) ([]string, error) {
	m.mu.Lock()
	p, ok := m.procs[key(projectID, name)]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	p.logMu.Lock()
	defer p.logMu.Unlock()
	if n <= 0 || n > len(p.lines) {
		n = len(p.lines)
	}
	out := make([]string, n)
	copy(out, p.lines[len(p.lines)-n:])
	return out, nil
}

// List returns info for all running processes in a project.
func (m *Manager) List(projectID string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []Info
	for _, p := range m.procs {
		if p.projectID != projectID {
			continue
		}
		info := Info{
			ProjectID: p.projectID,
			Name:      p.name,
			Command:   p.command,
			StartedAt: p.startedAt,
		}
		if p.cmd.Process != nil {
			info.PID = p.cmd.Process.Pid
		}
		infos = append(infos, info)
	}
	return infos
}

// StopAll terminates every tracked process. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	procs := m.procs
	m.procs = make(map[string]*process)
	m.mu.Unlock()

	for _, p := range procs {
		if p.cmd.Process != nil {
			syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
		}
		p.cancel()
	}
}
