package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/certline/messenger/internal/app"
	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/rest"
)

func sendCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message to admin support",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv(cmd)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, logger)
			if errors.Is(err, app.ErrNotLoggedIn) {
				return fmt.Errorf("not logged in; run `messenger login --token <jwt>` first")
			}
			if err != nil {
				return err
			}
			defer a.Close()

			content := ""
			if len(args) == 1 {
				content = args[0]
			}

			uploads, closeFiles, err := openUploads(files)
			if err != nil {
				return err
			}
			defer closeFiles()

			ctx := cmd.Context()

			// Real-time send is required: wait for the channel to come up.
			events, cancelSub := a.Bus().Subscribe(16)
			defer cancelSub()
			a.Socket().Initialize(ctx)
			if err := waitConnected(ctx, events, cfg.DialTimeout+time.Duration(cfg.ReconnectAttempts)*cfg.ReconnectDelay); err != nil {
				return fmt.Errorf("support channel unavailable: %w", err)
			}

			msg, err := a.Controller().Send(ctx, content, uploads)
			if err != nil {
				return err
			}
			fmt.Printf("Sent message %s\n", msg.ID)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&files, "file", nil, "attach a file (repeatable)")
	return cmd
}

func openUploads(paths []string) ([]rest.Upload, func(), error) {
	var uploads []rest.Upload
	var opened []*os.File

	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open attachment: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			closeAll()
			return nil, func() {}, fmt.Errorf("stat attachment: %w", err)
		}
		opened = append(opened, f)
		name := p
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			name = p[i+1:]
		}
		uploads = append(uploads, rest.Upload{Filename: name, Size: info.Size(), Reader: f})
	}
	return uploads, closeAll, nil
}

func waitConnected(ctx context.Context, events <-chan bus.Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("timed out")
		case ev := <-events:
			if ev.Kind == bus.EventConnected {
				return nil
			}
			// Connect failures are retried by the manager; keep waiting
			// until the timer gives up.
		}
	}
}
