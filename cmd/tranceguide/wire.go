package main

import (
	"io"

	"github.com/vango-go/tranceguide/internal/config"
	"github.com/vango-go/tranceguide/pkg/live/connector"
	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/media"
	"github.com/vango-go/tranceguide/pkg/live/orchestrator"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

// newOrchestrator builds the production session stack: token fetcher, ffmpeg
// microphone, ffplay output and the realtime websocket.
func newOrchestrator(cfg config.Config, logOut io.Writer) (sessionController, func(), error) {
	logger := cfg.NewLogger(logOut)

	var sink media.Sink = media.Discard
	if cfg.Playback.Enabled {
		player, err := media.NewFFplayPlayer(cfg.Playback.FFplay, cfg.Microphone.Constraints.Audio.SampleRate)
		if err != nil {
			return nil, nil, err
		}
		sink = player
	}
	cleanup := func() {
		if err := sink.Close(); err != nil {
			logger.Debug("close playback", "error", err)
		}
	}

	conn, err := connector.New(connector.Config{
		Credentials: credential.NewFetcher(cfg.TokenURL, nil, logger),
		Microphone: &media.FFmpegAcquirer{
			Binary:           cfg.Microphone.FFmpeg,
			Device:           cfg.Microphone.Device,
			EchoCancelDevice: cfg.Microphone.EchoCancelDevice,
			ProbeTimeout:     cfg.Microphone.ProbeTimeout,
			Logger:           logger,
		},
		Factory: &transport.WebSocketFactory{
			URL:    cfg.RealtimeURL,
			Logger: logger,
		},
		Sink:        sink,
		Profile:     cfg.Profile,
		Constraints: cfg.Microphone.Constraints,
		Retry:       cfg.RetryPolicy(),
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Connector:   conn,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}
