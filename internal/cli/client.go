package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"training-sync-service/internal/config"
	"training-sync-service/internal/content"
	"training-sync-service/internal/domain"
	"training-sync-service/internal/infra/memory"
	"training-sync-service/internal/presentation"
	"training-sync-service/internal/syncclient"
)

const (
	defaultLocalPath = "trainsync-local.db"
	apiTimeout       = 10 * time.Second
)

type clientFlags struct {
	name         string
	hostPassword string
}

// openSyncClient builds a client for the configured server, with the local
// room as fallback. The returned cleanup closes the local room.
func openSyncClient(ctx context.Context, cfg config.Config, logger *zap.Logger, flags clientFlags, onState func(domain.PresentationState)) (*syncclient.Client, func(), error) {
	localPath := cfg.Sync.LocalPath
	if localPath == "" {
		localPath = defaultLocalPath
	}
	local, err := syncclient.OpenLocalRoom(localPath, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = local.Close() }

	var api *syncclient.API
	if cfg.Sync.ServerURL != "" && !cfg.Sync.DisableServerSync {
		api = syncclient.NewAPI(cfg.Sync.ServerURL, &http.Client{Timeout: apiTimeout})
	}

	course := clientContent(ctx, cfg, api, logger)
	client, err := syncclient.New(syncclient.Options{
		API:               api,
		Local:             local,
		Machine:           presentation.NewMachine(course.Tree(), time.Now),
		Logger:            logger,
		Name:              flags.name,
		HostPassword:      flags.hostPassword,
		DisableServerSync: cfg.Sync.DisableServerSync,
		PollInterval:      config.TTLDuration(cfg.Sync.PollInterval, 0),
		HeartbeatInterval: config.TTLDuration(cfg.Sync.HeartbeatInterval, 0),
		OnState:           onState,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return client, cleanup, nil
}

// clientContent prefers the server's course so transitions clamp against the
// same tree as the other clients.
func clientContent(ctx context.Context, cfg config.Config, api *syncclient.API, logger *zap.Logger) content.Content {
	if api != nil {
		course, err := api.Content(ctx, "")
		if err == nil && len(course.Modules) > 0 {
			return course
		}
		logger.Warn("could not fetch content from server, using local copy", zap.Error(err))
	}
	if cfg.Content.File != "" {
		if loader, err := memory.LoadContentFile(cfg.Content.File); err == nil {
			if course, err := loader.LoadContent(ctx, content.DefaultID); err == nil {
				return course
			}
		} else {
			logger.Warn("content file unreadable, using built-in course", zap.Error(err))
		}
	}
	return content.Default()
}

// hostCommand applies one console line to the client. It returns false when
// the operator asked to quit.
func hostCommand(ctx context.Context, client *syncclient.Client, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true, nil
	}
	var err error
	switch fields[0] {
	case "next", "n":
		_, err = client.Advance(ctx)
	case "prev", "p":
		_, err = client.Rewind(ctx)
	case "jump":
		if len(fields) != 3 {
			return true, fmt.Errorf("usage: jump MODULE STEP")
		}
		module, step, perr := twoInts(fields[1], fields[2])
		if perr != nil {
			return true, perr
		}
		_, err = client.Jump(ctx, module, step)
	case "reveal":
		if len(fields) != 2 {
			return true, fmt.Errorf("usage: reveal MODULE")
		}
		module, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return true, fmt.Errorf("module must be a number: %w", perr)
		}
		_, err = client.RevealModule(ctx, module)
	case "toggle":
		if len(fields) != 2 {
			return true, fmt.Errorf("usage: toggle SECTION")
		}
		_, err = client.ToggleSection(ctx, fields[1])
	case "end":
		_, err = client.JumpToEnd(ctx)
	case "reset":
		_, err = client.Reset(ctx)
	case "quit", "exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command %q", fields[0])
	}
	return true, err
}

// participantCommand handles the console lines a participant may send.
func participantCommand(client *syncclient.Client, line string) (bool, error) {
	switch strings.TrimSpace(line) {
	case "":
	case "pause":
		client.Pause()
	case "resume":
		client.Resume()
	case "quit", "exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command %q", strings.TrimSpace(line))
	}
	return true, nil
}

// readCommands feeds each input line to handle until it returns false, the
// input ends or ctx is done.
func readCommands(ctx context.Context, in io.Reader, logger *zap.Logger, handle func(string) (bool, error)) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			more, err := handle(line)
			if err != nil {
				logger.Warn("command failed", zap.String("command", line), zap.Error(err))
			}
			if !more {
				return
			}
		}
	}
}

func twoInts(a, b string) (int, int, error) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("module must be a number: %w", err)
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("step must be a number: %w", err)
	}
	return x, y, nil
}

func logState(logger *zap.Logger) func(domain.PresentationState) {
	return func(state domain.PresentationState) {
		logger.Info("presentation state",
			zap.Int("module", state.CurrentModule),
			zap.Int("step", state.CurrentStep),
			zap.Int("visible_sections", len(state.VisibleSections)),
			zap.Int64("last_modified", state.LastModified),
		)
	}
}
