package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Handshake and shutdown timing. Pikafish answers uci/isready in well under
// a second on any hardware that can run it at all.
const (
	uciTimeout   = 3 * time.Second
	readyTimeout = 2 * time.Second
	replyMargin  = 1 * time.Second
	quitGrace    = 100 * time.Millisecond
)

var (
	// ErrNotReady means the engine process could not be started or lost
	// its handshake; callers report "AI engine is not available".
	ErrNotReady = errors.New("engine is not available")
	// ErrNoMove means the engine answered but had no legal move.
	ErrNoMove = errors.New("engine returned no move")
)

// Difficulty selects the search effort per AI tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes a client gamemode string.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch d := Difficulty(strings.ToLower(s)); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, true
	}
	return "", false
}

// searchParams returns the depth limit and the time the engine is given to
// answer before the bridge gives up on the query.
func (d Difficulty) searchParams() (depth int, budget time.Duration) {
	switch d {
	case DifficultyEasy:
		return 3, 500 * time.Millisecond
	case DifficultyMedium:
		return 5, 1000 * time.Millisecond
	default:
		return 8, 2000 * time.Millisecond
	}
}

// program is one running engine process: a line sink plus a line source.
// Tests substitute a scripted implementation.
type program interface {
	WriteLine(s string) error
	Lines() <-chan string
	Stop()
}

type launcher func() (program, error)

// Engine is the bridge to a UCI xiangqi engine subprocess. One query runs
// at a time; a failed query kills the process and the next query starts a
// fresh one.
type Engine struct {
	launch launcher

	mu    sync.Mutex
	proc  program
	ready bool
}

// New builds the bridge around the resolved binary path. The process is not
// started until Init or the first query.
func New(path string) *Engine {
	return &Engine{launch: func() (program, error) { return launchBinary(path) }}
}

// Init starts the engine and performs the UCI handshake.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initLocked()
}

func (e *Engine) initLocked() error {
	if e.ready {
		return nil
	}
	if e.proc != nil {
		e.proc.Stop()
		e.proc = nil
	}

	proc, err := e.launch()
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	if err := handshake(proc); err != nil {
		proc.Stop()
		return err
	}

	e.proc = proc
	e.ready = true
	slog.Info("engine initialized")
	return nil
}

func handshake(p program) error {
	if err := p.WriteLine("uci"); err != nil {
		return fmt.Errorf("uci handshake: %w", err)
	}
	if _, err := awaitToken(p.Lines(), "uciok", uciTimeout); err != nil {
		return fmt.Errorf("uci handshake: %w", err)
	}
	if err := p.WriteLine("isready"); err != nil {
		return fmt.Errorf("isready: %w", err)
	}
	if _, err := awaitToken(p.Lines(), "readyok", readyTimeout); err != nil {
		return fmt.Errorf("isready: %w", err)
	}
	return nil
}

// awaitToken drains engine output until a line contains token.
func awaitToken(lines <-chan string, token string, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("engine closed its output waiting for %s", token)
			}
			if strings.Contains(line, token) {
				return line, nil
			}
		case <-deadline.C:
			return "", fmt.Errorf("timed out waiting for %s", token)
		}
	}
}

// Ready reports whether the engine answered its handshake.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// BestMove asks for a move at the given tier. position is either a full
// "position ..." command or a bare FEN string.
func (e *Engine) BestMove(position string, difficulty Difficulty) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		if err := e.initLocked(); err != nil {
			slog.Warn("engine restart failed", "error", err)
			return "", ErrNotReady
		}
	}

	depth, budget := difficulty.searchParams()
	cmd := position
	if !strings.HasPrefix(cmd, "position ") {
		cmd = "position fen " + position
	}

	if err := e.proc.WriteLine(cmd); err != nil {
		e.markDown()
		return "", fmt.Errorf("sending position: %w", err)
	}
	if err := e.proc.WriteLine(fmt.Sprintf("go depth %d", depth)); err != nil {
		e.markDown()
		return "", fmt.Errorf("sending go: %w", err)
	}

	line, err := awaitToken(e.proc.Lines(), "bestmove", budget+replyMargin)
	if err != nil {
		e.markDown()
		return "", fmt.Errorf("awaiting bestmove: %w", err)
	}

	fields := strings.Fields(line[strings.Index(line, "bestmove"):])
	if len(fields) < 2 || fields[1] == "(none)" || fields[1] == "none" {
		return "", ErrNoMove
	}
	return fields[1], nil
}

// SuggestMove runs the strongest tier, used for hint requests.
func (e *Engine) SuggestMove(position string) (string, error) {
	return e.BestMove(position, DifficultyHard)
}

// markDown drops the broken process; the next query relaunches. Callers
// hold e.mu.
func (e *Engine) markDown() {
	if e.proc != nil {
		e.proc.Stop()
		e.proc = nil
	}
	e.ready = false
	slog.Warn("engine marked down, will restart on next query")
}

// Close shuts the engine down for good.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != nil {
		e.proc.Stop()
		e.proc = nil
	}
	e.ready = false
}
