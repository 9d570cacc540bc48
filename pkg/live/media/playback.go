package media

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

var errPlayerClosed = errors.New("player is closed")

// FFplayPlayer plays PCM16 mono audio through an ffplay subprocess.
type FFplayPlayer struct {
	binary     string
	sampleRate int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

// NewFFplayPlayer starts ffplay at the given sample rate. An empty binary
// defaults to "ffplay".
func NewFFplayPlayer(binary string, sampleRate int) (*FFplayPlayer, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffplay"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	p := &FFplayPlayer{binary: binary, sampleRate: sampleRate}
	if err := p.startLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// PlaybackArgs returns the ffplay arguments for raw PCM16 mono input.
func PlaybackArgs(sampleRate int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

func (p *FFplayPlayer) startLocked() error {
	p.cmd = exec.Command(p.binary, PlaybackArgs(p.sampleRate)...)
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	p.cmd.Stdout = io.Discard
	p.cmd.Stderr = io.Discard
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	p.stdin = stdin
	return nil
}

func (p *FFplayPlayer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPlayerClosed
	}
	if p.stdin == nil {
		return 0, errors.New("ffplay stdin is not initialized")
	}
	return p.stdin.Write(data)
}

// Reset drops buffered audio by restarting ffplay.
func (p *FFplayPlayer) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.stopLocked()
	return p.startLocked()
}

func (p *FFplayPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.stopLocked()
	return nil
}

func (p *FFplayPlayer) stopLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.stdin = nil
}
