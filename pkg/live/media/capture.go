package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
)

const (
	defaultProbeTimeout = 5 * time.Second
	maxStderrBytes      = 8 << 10
)

// FFmpegAcquirer captures the microphone with an ffmpeg subprocess.
type FFmpegAcquirer struct {
	// Binary defaults to "ffmpeg".
	Binary string
	// Device is the capture input: a pulse source on linux, an avfoundation
	// audio index on darwin. Empty selects the platform default.
	Device string
	// EchoCancelDevice replaces Device when echo cancellation is requested,
	// e.g. a pulse module-echo-cancel source.
	EchoCancelDevice string
	// ProbeTimeout bounds the wait for the first captured bytes.
	ProbeTimeout time.Duration
	GOOS         string
	Logger       *slog.Logger
}

// Acquire starts the capture and waits for the first audio bytes so device
// and permission failures surface here rather than mid-session.
func (a *FFmpegAcquirer) Acquire(ctx context.Context, constraints live.MicConstraints) (Stream, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bin := strings.TrimSpace(a.Binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, core.NewConnectionError("ffmpeg is required for microphone capture", err)
	}
	goos := a.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	device := a.Device
	if constraints.EchoCancellation && strings.TrimSpace(a.EchoCancelDevice) != "" {
		device = a.EchoCancelDevice
	}
	args, err := CaptureArgs(goos, device, constraints)
	if err != nil {
		return nil, core.NewDeviceError(err)
	}

	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.NewConnectionError("open microphone capture", err)
	}
	stderr := &limitedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, core.NewConnectionError("start microphone capture", err)
	}
	stream := &ffmpegStream{cmd: cmd, reader: bufio.NewReaderSize(stdout, 32<<10)}

	probeTimeout := a.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	probe := make(chan error, 1)
	go func() {
		_, err := stream.reader.Peek(2)
		probe <- err
	}()

	timer := time.NewTimer(probeTimeout)
	defer timer.Stop()
	select {
	case err := <-probe:
		if err == nil {
			logger.Debug("microphone acquired", "device", device, "goos", goos)
			return stream, nil
		}
		waitErr := stream.wait()
		if waitErr == nil {
			waitErr = err
		}
		return nil, classifyCaptureError(stderr.String(), waitErr)
	case <-timer.C:
		_ = stream.Stop()
		return nil, core.NewConnectionError("microphone produced no audio", fmt.Errorf("no audio within %s", probeTimeout))
	case <-ctx.Done():
		_ = stream.Stop()
		return nil, ctx.Err()
	}
}

// CaptureArgs builds the ffmpeg arguments for the platform and constraints.
func CaptureArgs(goos, device string, constraints live.MicConstraints) ([]string, error) {
	audio := constraints.Audio
	if audio.SampleRate <= 0 {
		audio = live.DefaultAudioConfig()
	}
	device = strings.TrimSpace(device)

	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		input = []string{"-f", "avfoundation", "-i", ":" + device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	if filters := captureFilters(constraints); filters != "" {
		args = append(args, "-af", filters)
	}
	args = append(args,
		"-ac", strconv.Itoa(audio.Channels),
		"-ar", strconv.Itoa(audio.SampleRate),
		"-f", "s16le", "-",
	)
	return args, nil
}

func captureFilters(c live.MicConstraints) string {
	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	return strings.Join(filters, ",")
}

var (
	permissionMarkers = []string{
		"permission denied",
		"operation not permitted",
		"not authorized",
		"access denied",
		"notallowederror",
	}
	deviceMarkers = []string{
		"no such device",
		"no such file or directory",
		"device not found",
		"no audio devices",
		"could not find audio",
		"cannot open audio device",
		"connection refused",
		"notfounderror",
	}
)

// classifyCaptureError maps capture stderr to the error taxonomy. Permission
// markers are checked before device markers.
func classifyCaptureError(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	if err != nil {
		lower += " " + strings.ToLower(err.Error())
	}
	cause := err
	if msg := strings.TrimSpace(stderr); msg != "" {
		cause = fmt.Errorf("%s: %w", msg, err)
	}
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return core.NewPermissionError(cause)
		}
	}
	for _, marker := range deviceMarkers {
		if strings.Contains(lower, marker) {
			return core.NewDeviceError(cause)
		}
	}
	return core.NewConnectionError("microphone capture failed", cause)
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader

	stopOnce sync.Once
	waitOnce sync.Once
	waitErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *ffmpegStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Stop kills the capture process and reaps it.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.wait()
	})
	return nil
}

type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ io.Writer = (*limitedBuffer)(nil)
