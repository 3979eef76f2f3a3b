package engine

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// binaryName is what the engine executable is called when only a directory
// or $PATH is known.
const binaryName = "pikafish"

// FindBinary resolves the engine executable: an explicit path first, then a
// copy next to the server binary, then $PATH.
func FindBinary(configured string) (string, error) {
	if strings.ContainsRune(configured, '/') {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("engine binary %s is missing or not executable", configured)
	}

	if exe, err := os.Executable(); err == nil {
		local := filepath.Join(filepath.Dir(exe), binaryName)
		if isExecutable(local) {
			return local, nil
		}
	}

	name := configured
	if name == "" {
		name = binaryName
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("engine binary %q not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
}

// osProgram runs the engine as a child process with line-based pipes.
type osProgram struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
}

func launchBinary(path string) (program, error) {
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	p := &osProgram{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
	}
	go p.scan(stdout)

	slog.Info("engine process started", "path", path, "pid", cmd.Process.Pid)
	return p, nil
}

// scan turns the engine's stdout into lines; the channel closes when the
// process closes its end.
func (p *osProgram) scan(stdout io.Reader) {
	defer close(p.lines)

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			p.lines <- line
		}
	}
}

func (p *osProgram) WriteLine(s string) error {
	_, err := io.WriteString(p.stdin, s+"\n")
	return err
}

func (p *osProgram) Lines() <-chan string { return p.lines }

// Stop asks the engine to quit, escalating to SIGTERM and then SIGKILL if
// it lingers.
func (p *osProgram) Stop() {
	_ = p.WriteLine("quit")
	_ = p.stdin.Close()

	// Unblock the scanner so it can reach EOF.
	go func() {
		for range p.lines {
		}
	}()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
		return
	case <-time.After(quitGrace):
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(time.Second):
		_ = p.cmd.Process.Kill()
		<-done
	}
}
