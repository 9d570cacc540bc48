package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/connector"
	"github.com/vango-go/tranceguide/pkg/live/store"
)

// sessionController is the part of the orchestrator the terminal drives.
type sessionController interface {
	Connect(ctx context.Context) error
	Disconnect()
	Interrupt()
	ToggleMute() bool
	TriggerResponse(instructions string)
	Store() *store.Store
}

const sessionHelp = "Commands: /mute /interrupt /respond [text] /status /reconnect /end"

func newSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Start a live voice session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			out := &syncWriter{w: cmd.OutOrStdout()}
			ctrl, cleanup, err := a.newController(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer cleanup()
			return runSession(cmd.Context(), ctrl, cmd.InOrStdin(), out, cmd.ErrOrStderr())
		},
	}
}

// runSession connects, then serves slash commands from in until /end, EOF or
// ctx is done. The session is always disconnected on return.
func runSession(ctx context.Context, ctrl sessionController, in io.Reader, out, errOut io.Writer) error {
	unsubscribe := ctrl.Store().Subscribe(printChanges(out, time.Now))
	defer unsubscribe()

	fmt.Fprintln(out, "Connecting... "+sessionHelp)
	defer ctrl.Disconnect()
	if err := ctrl.Connect(ctx); err != nil {
		if errors.Is(err, connector.ErrSuperseded) || errors.Is(err, context.Canceled) {
			return nil
		}
		fmt.Fprintf(errOut, "connect failed: %s\n", core.UserMessage(err))
		return err
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "ending session")
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			if handleCommand(ctx, strings.TrimSpace(line), ctrl, out, errOut) {
				return nil
			}
		}
	}
}

// handleCommand runs one input line and reports whether the session should end.
func handleCommand(ctx context.Context, line string, ctrl sessionController, out, errOut io.Writer) (done bool) {
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/end", "/exit", "/quit":
		fmt.Fprintln(out, "ending session")
		return true
	case "/mute":
		if ctrl.ToggleMute() {
			fmt.Fprintln(out, "microphone muted")
		} else {
			fmt.Fprintln(out, "microphone live")
		}
	case "/interrupt":
		ctrl.Interrupt()
	case "/respond":
		ctrl.TriggerResponse(strings.TrimSpace(rest))
	case "/status":
		printStatus(out, ctrl.Store().Snapshot(), time.Now())
	case "/reconnect":
		if err := ctrl.Connect(ctx); err != nil && !errors.Is(err, connector.ErrSuperseded) {
			fmt.Fprintf(errOut, "reconnect failed: %s\n", core.UserMessage(err))
		}
	case "/help":
		fmt.Fprintln(out, sessionHelp)
	default:
		fmt.Fprintf(errOut, "unknown command %q. %s\n", line, sessionHelp)
	}
	return false
}

func printStatus(out io.Writer, c live.SessionContext, now time.Time) {
	technique := "-"
	if c.Technique != nil {
		technique = string(*c.Technique)
	}
	fmt.Fprintf(out, "state=%s connected=%t muted=%t technique=%s elapsed=%s turns=%d\n",
		c.State, c.IsConnected, c.IsMuted, technique, c.Duration(now), len(c.Transcript))
}

// printChanges renders state transitions, new transcript entries and the
// detected technique as they land in the store.
func printChanges(out io.Writer, now func() time.Time) store.Listener {
	return func(next, prev live.SessionContext) {
		if next.State != prev.State {
			switch next.State {
			case live.StateError:
				fmt.Fprintf(out, "[%s] %s\n", next.State, core.UserMessage(next.Error))
			case live.StateInSession:
				fmt.Fprintf(out, "[%s] session started\n", next.State)
			default:
				fmt.Fprintf(out, "[%s]\n", next.State)
			}
		}
		if len(next.Transcript) > len(prev.Transcript) {
			for _, entry := range next.Transcript[len(prev.Transcript):] {
				fmt.Fprintf(out, "%s %s: %s\n", live.SessionDuration(next.StartTime, now()), entry.Role, entry.Content)
			}
		}
		if next.Technique != nil && prev.Technique == nil {
			fmt.Fprintf(out, "technique: %s\n", *next.Technique)
		}
	}
}

// syncWriter serialises writes from the store listener and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
