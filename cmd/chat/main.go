// chat is a terminal client for the support chat. "chat visitor" opens or
// resumes a conversation as a visitor; "chat console" runs the staff console.
//
// Lines typed on stdin are sent as messages. Lines starting with "/" are
// commands; "/help" lists them.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/qoshimcha/support-chat-go/internal/chatclient"
	"github.com/qoshimcha/support-chat-go/internal/console"
	"github.com/qoshimcha/support-chat-go/internal/keystore"
	"github.com/qoshimcha/support-chat-go/internal/model"
	"github.com/qoshimcha/support-chat-go/internal/transcript"
	"github.com/qoshimcha/support-chat-go/internal/visitor"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: chat <visitor|console> [flags]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "visitor":
		return runVisitor(ctx, args[1:])
	case "console":
		return runConsole(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q (want visitor or console)", args[0])
	}
}

func runVisitor(ctx context.Context, args []string) error {
	var serverURL, storePath, firstName, lastName, message string

	flagSet := pflag.NewFlagSet("chat visitor", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "http://localhost:8080", "chat server base URL")
	flagSet.StringVar(&storePath, "store", defaultStorePath(), "SQLite file holding the session credential")
	flagSet.StringVar(&firstName, "first-name", "", "first name for a new conversation")
	flagSet.StringVar(&lastName, "last-name", "", "last name for a new conversation")
	flagSet.StringVarP(&message, "message", "m", "", "first message of a new conversation")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	client, err := chatclient.New(serverURL)
	if err != nil {
		return err
	}
	store, err := keystore.OpenSQLite(storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctrl := visitor.NewController(client, store)
	defer ctrl.Close()

	resumed, err := ctrl.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore conversation: %w", err)
	}
	if !resumed {
		if err := ctrl.Start(ctx, firstName, lastName, message); err != nil {
			if ctrl.Snapshot().State != visitor.StateActive {
				return fmt.Errorf("start conversation: %w", err)
			}
			fmt.Printf("! first message not delivered: %v (type /retry)\n", err)
		}
	}

	go renderVisitor(ctx, ctrl, os.Stdout)

	return readLines(ctx, os.Stdin, func(line string) (bool, error) {
		switch {
		case line == "/end":
			return true, ctrl.End(ctx)
		case line == "/retry":
			for _, entry := range ctrl.Snapshot().Entries {
				if entry.State == transcript.StateFailed {
					return false, ctrl.Retry(ctx, entry.LocalID)
				}
			}
			return false, nil
		case line == "/reconnect":
			return false, ctrl.Reconnect(ctx)
		case line == "/help":
			fmt.Println("/retry  /reconnect  /end  /quit")
			return false, nil
		case line == "/quit":
			return true, nil
		}
		return false, ctrl.Send(ctx, line)
	})
}

func runConsole(ctx context.Context, args []string) error {
	var serverURL, token string

	flagSet := pflag.NewFlagSet("chat console", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "http://localhost:8080", "chat server base URL")
	flagSet.StringVar(&token, "token", os.Getenv("SUPPORT_CHAT_STAFF_TOKEN"), "staff token (<staff-id>.<secret>)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("--token or SUPPORT_CHAT_STAFF_TOKEN is required")
	}

	client, err := chatclient.New(serverURL)
	if err != nil {
		return err
	}

	ctrl := console.NewController(client.Staff(token))
	defer ctrl.Close()

	if err := ctrl.Mount(ctx); err != nil {
		return fmt.Errorf("mount console: %w", err)
	}

	go renderConsole(ctx, ctrl, os.Stdout)

	return readLines(ctx, os.Stdin, func(line string) (bool, error) {
		command, arg, _ := strings.Cut(line, " ")
		switch command {
		case "/select":
			return false, ctrl.Select(ctx, strings.TrimSpace(arg))
		case "/archive":
			return false, ctrl.Archive(ctx, strings.TrimSpace(arg))
		case "/refresh":
			return false, ctrl.RefreshSessions(ctx)
		case "/reconnect":
			return false, ctrl.Reconnect(ctx)
		case "/help":
			fmt.Println("/select <id>  /archive <id>  /refresh  /reconnect  /quit")
			return false, nil
		case "/quit":
			return true, nil
		}
		return false, ctrl.Reply(ctx, line)
	})
}

// readLines feeds stdin lines to handle until it asks to stop, stdin ends
// or ctx is cancelled. Handler errors are printed, not returned.
func readLines(ctx context.Context, r io.Reader, handle func(line string) (bool, error)) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			done, err := handle(line)
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

func renderVisitor(ctx context.Context, ctrl *visitor.Controller, w io.Writer) {
	printed := make(map[string]transcript.State)
	for {
		for _, entry := range ctrl.Snapshot().Entries {
			key := entry.Message.ID
			if key == "" {
				key = entry.LocalID
			}
			if printed[key] == entry.State {
				continue
			}
			printed[key] = entry.State
			if entry.State == transcript.StateConfirmed && entry.Message.SenderType == model.SenderVisitor {
				continue
			}
			fmt.Fprintln(w, formatEntry(entry))
		}

		select {
		case <-ctx.Done():
			return
		case <-ctrl.Changes():
		}
	}
}

func formatEntry(entry transcript.Entry) string {
	msg := entry.Message
	switch entry.State {
	case transcript.StatePending:
		return "  … " + msg.Content
	case transcript.StateFailed:
		return "  ✗ " + msg.Content
	}
	who := "you"
	if msg.SenderType == model.SenderStaff {
		who = "support"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format("15:04"), who, msg.Content)
}

func renderConsole(ctx context.Context, ctrl *console.Controller, w io.Writer) {
	var lastList string
	var streamDown bool
	seen := make(map[string]bool)
	for {
		snap := ctrl.Snapshot()

		if down := snap.StreamErr != nil; down != streamDown {
			streamDown = down
			if down {
				fmt.Fprintf(w, "live updates stopped (%v), type /reconnect\n", snap.StreamErr)
			}
		}

		var b strings.Builder
		for _, s := range snap.Sessions {
			marker := " "
			if s.ID == snap.SelectedID {
				marker = ">"
			}
			status := ""
			if !s.IsActive {
				status = " (archived)"
			}
			fmt.Fprintf(&b, "%s %s %s %s [%d unread]%s: %s\n",
				marker, s.ID, s.FirstName, s.LastName, s.UnreadCount, status, s.LastMessage)
		}
		if list := b.String(); list != lastList {
			lastList = list
			fmt.Fprint(w, "--- sessions ---\n"+list)
		}

		for _, msg := range snap.Messages {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			fmt.Fprintf(w, "[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), msg.SenderType, msg.Content)
		}

		select {
		case <-ctx.Done():
			return
		case <-ctrl.Changes():
		}
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "support-chat.db"
	}
	return filepath.Join(dir, "support-chat", "keystore.db")
}
