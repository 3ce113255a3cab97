package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/certline/messenger/internal/app"
	"github.com/certline/messenger/internal/bus"
	"github.com/certline/messenger/internal/chat"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive support conversation",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			events, cancelSub := a.Bus().Subscribe(64)
			defer cancelSub()

			go a.Run(ctx)
			go renderLoop(ctx, events, a.User().ID)

			ctl := a.Controller()
			if err := ctl.Open(ctx); err != nil {
				fmt.Println("Could not load the conversation; showing cached messages if any.")
			}
			printHistory(ctl.Entries())
			fmt.Println("Type a message and press Enter. Commands: /reconnect /refresh /quit")

			inputLoop(ctx, cancel, ctl)

			ctl.Close()
			return nil
		},
	}
}

func inputLoop(ctx context.Context, cancel context.CancelFunc, ctl *chat.Controller) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				ctl.OnBlur()
				continue
			case "/quit":
				cancel()
				return
			case "/reconnect":
				ctl.RequestReconnect(ctx)
				continue
			case "/refresh":
				if err := ctl.Refresh(ctx); err != nil {
					fmt.Println("Refresh failed")
					continue
				}
				printHistory(ctl.Entries())
				continue
			}

			ctl.OnInput(true)
			msg, err := ctl.Send(ctx, text, nil)
			if err != nil {
				var domainErr *chat.Error
				if errors.As(err, &domainErr) {
					fmt.Printf("! %s\n", domainErr.Message)
				} else {
					fmt.Println("! Failed to send; message kept, try again.")
				}
				continue
			}
			fmt.Printf("[%s] you: %s\n", msg.CreatedAt.Local().Format("15:04"), msg.Content)
		}
	}
}

func renderLoop(ctx context.Context, events <-chan bus.Event, selfID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			renderEvent(ev, selfID)
		}
	}
}

func renderEvent(ev bus.Event, selfID string) {
	switch ev.Kind {
	case bus.EventMessageReceived:
		msg := ev.Message
		if msg == nil || msg.Sender.ID == selfID {
			// Own echo; already rendered at send time.
			return
		}
		name := msg.Sender.FullName
		if name == "" {
			name = "admin"
		}
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), name, msg.Content)
		for _, att := range msg.Attachments {
			fmt.Printf("    attachment: %s (%d bytes)\n", att.Filename, att.Size)
		}
	case bus.EventTypingChanged:
		if ev.UserID == selfID {
			return
		}
		if ev.IsTyping {
			fmt.Println("… admin is typing")
		}
	case bus.EventPresenceChanged:
		if ev.IsOnline {
			fmt.Println("* support is online")
		} else {
			fmt.Println("* support is offline")
		}
	case bus.EventNoticeRaised:
		if ev.Notice != nil {
			fmt.Printf("* %s\n", ev.Notice.Text)
		}
	case bus.EventConnected:
		fmt.Println("* connected")
	case bus.EventDisconnected:
		fmt.Printf("* disconnected (%s)\n", ev.Reason)
	case bus.EventReconnecting:
		fmt.Printf("* reconnecting (attempt %d)\n", ev.Attempt)
	case bus.EventConnectFailed:
		fmt.Println("* connection failed; messages still refresh by polling, /reconnect to retry")
	}
}

func printHistory(entries []chat.Entry) {
	if len(entries) == 0 {
		fmt.Println("No messages yet. Start a conversation with our support team.")
		return
	}
	var day string
	for _, e := range entries {
		d := e.CreatedAt.Local().Format("Jan 02, 2006")
		if d != day {
			day = d
			fmt.Printf("--- %s ---\n", day)
		}
		name := "you"
		if !e.IsMine {
			name = e.Sender.FullName
			if name == "" {
				name = "admin"
			}
		}
		marker := " "
		if e.IsMine && e.Read {
			marker = "✓"
		}
		fmt.Printf("[%s]%s %s: %s\n", e.CreatedAt.Local().Format("15:04"), marker, name, e.Content)
		for _, att := range e.Attachments {
			fmt.Printf("    attachment: %s (%d bytes)\n", att.Filename, att.Size)
		}
	}
}
