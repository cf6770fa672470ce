package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mossy-p/coderoom/config"
	"github.com/mossy-p/coderoom/internal/client"
	"github.com/mossy-p/coderoom/internal/models"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *config.Options) *cobra.Command {
	var server, room, name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat from the terminal",
		Long: `Join a room and chat from the terminal. Each line read from stdin is sent
as a message; messages and presence changes from the room are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(opts); err != nil {
				return err
			}
			return chat(cmd.Context(), server, room, name, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", "ws://localhost:8080/ws", "relay websocket URL")
	cmd.Flags().StringVar(&room, "room", "", "room to join")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.MarkFlagRequired("room")
	cmd.MarkFlagRequired("name")
	return cmd
}

func chat(ctx context.Context, server, room, name string, in io.Reader, out io.Writer) error {
	c, err := client.Dial(ctx, server, name, slog.Default())
	if err != nil {
		return err
	}
	if err := c.Join(room, name); err != nil {
		c.Close()
		return err
	}
	fmt.Fprintf(out, "joined %s as %s\n", room, name)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for env := range c.Events() {
			if line := formatEvent(env); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()
	defer func() {
		c.Close()
		<-printed
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(in, stop)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-printed:
			return client.ErrClosed
		case line, ok := <-lines:
			if !ok {
				return c.Leave(room)
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if err := c.Chat(room, name, line); err != nil {
				return err
			}
		}
	}
}

// readLines scans in line by line until EOF or until stop is closed. A
// read already blocked on in finishes with the next line, which is dropped.
func readLines(in io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()
	return lines
}

func formatEvent(env models.Envelope) string {
	switch env.Event {
	case models.EventReceiveMessage:
		var m models.RelayedChat
		if json.Unmarshal(env.Data, &m) == nil {
			return fmt.Sprintf("<%s> %s", m.Username, m.Message)
		}
	case models.EventUserJoined:
		var u models.UserJoined
		if json.Unmarshal(env.Data, &u) == nil {
			return fmt.Sprintf("* %s joined", models.Member{ConnectionID: u.ConnectionID, DisplayName: u.DisplayName}.Label())
		}
	case models.EventUserLeft:
		var u models.UserLeft
		if json.Unmarshal(env.Data, &u) == nil {
			return fmt.Sprintf("* %s left", u.ConnectionID)
		}
	}
	return ""
}
