package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiredm/internal/client"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/store"
)

const chatHelp = `Type a message and press Enter to send.
  /edit <id> <text>   replace the text of one of your messages
  /delete <id>        delete one of your messages
  /image <path>       send an image
  /quit               leave`

func newChatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <username>",
		Short: "Open a live conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, args[0])
		},
	}
}

type chat struct {
	api   *client.API
	conn  *client.Conn
	state *client.State
	peer  proto.User
}

func runChat(ctx context.Context, opts *globalOptions, peerName string) error {
	api, err := login(ctx, opts)
	if err != nil {
		return err
	}

	partners, err := api.Partners(ctx)
	if err != nil {
		return err
	}
	var peer *proto.User
	for i := range partners {
		if partners[i].Username == peerName {
			peer = &partners[i]
		}
	}
	if peer == nil {
		return fmt.Errorf("unknown user %q", peerName)
	}

	conn, err := client.Dial(ctx, opts.wsURL(), api.Token())
	if err != nil {
		return err
	}
	defer conn.Close()

	c := &chat{api: api, conn: conn, state: client.NewState(api.UserID(), api), peer: *peer}
	if err := c.state.Refresh(ctx); err != nil {
		return err
	}
	if err := c.state.Open(ctx, peer.ID); err != nil {
		return err
	}

	fmt.Printf("Conversation with %s. %s\n\n", peer.Username, chatHelp)
	for _, m := range c.state.Messages() {
		c.printMessage(&m, "")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		c.readLoop(ctx)
	}()

	c.writeLoop(ctx)
	// Pushes still in flight must not mark the conversation read after leaving it.
	c.state.CloseConversation()
	return nil
}

func (c *chat) readLoop(ctx context.Context) {
	for {
		ev, err := c.conn.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				fmt.Println("connection closed by server")
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}

		if err := c.state.Handle(ctx, ev); err != nil {
			fmt.Fprintf(os.Stderr, "sync error: %v\n", err)
		}
		c.printEvent(ev)
		if ev.Kind == core.EventSessionReplaced {
			return
		}
	}
}

func (c *chat) printEvent(ev *core.Event) {
	switch ev.Kind {
	case core.EventMessageCreated:
		if ev.Message.Counterpart(c.api.UserID()) == c.state.OpenWith() {
			c.printMessage(ev.Message, "")
		}
	case core.EventMessageUpdated:
		if ev.Message.Counterpart(c.api.UserID()) == c.state.OpenWith() {
			c.printMessage(ev.Message, " (edited)")
		}
	case core.EventMessageDeleted:
		if ev.SenderID == c.peer.ID || ev.ReceiverID == c.peer.ID {
			fmt.Printf("* message %d was deleted\n", ev.MessageID)
		}
	case core.EventReadStatusChanged:
		if ev.ReaderID == c.peer.ID {
			fmt.Printf("* %s read your messages\n", c.peer.Username)
		}
	case core.EventPresenceChanged:
		online := c.state.IsOnline(c.peer.ID)
		if online != c.peer.IsOnline {
			c.peer.IsOnline = online
			status := "offline"
			if online {
				status = "online"
			}
			fmt.Printf("* %s is %s\n", c.peer.Username, status)
		}
	case core.EventUnreadCountsChanged:
		others := 0
		for sender, n := range c.state.Index().UnreadCounts() {
			if sender != c.peer.ID {
				others += n
			}
		}
		if others > 0 {
			fmt.Printf("* %d unread in other conversations\n", others)
		}
	case core.EventSessionReplaced:
		fmt.Println("* this session was opened elsewhere")
	case core.EventError:
		fmt.Fprintf(os.Stderr, "server error: %s\n", ev.Error.Message)
	}
}

func (c *chat) printMessage(m *store.Message, suffix string) {
	who := c.peer.Username
	if m.SenderID == c.api.UserID() {
		who = "me"
	}
	body := m.Text
	if m.Image != "" {
		body = strings.TrimSpace(body + " [image " + m.Image + "]")
	}
	read := ""
	if m.SenderID == c.api.UserID() && m.IsRead {
		read = " ✓"
	}
	fmt.Printf("[%d %s] %s: %s%s%s\n", m.ID, m.CreatedAt.Local().Format(time.TimeOnly), who, body, suffix, read)
}

func (c *chat) writeLoop(ctx context.Context) {
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
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				return
			}
			if err := c.execute(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

func (c *chat) execute(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/edit":
		idStr, text, _ := strings.Cut(rest, " ")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return fmt.Errorf("usage: /edit <id> <text>")
		}
		msg, err := c.api.Edit(ctx, id, text)
		if err != nil {
			return err
		}
		c.state.Confirm(msg)
		return nil
	case "/delete":
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return fmt.Errorf("usage: /delete <id>")
		}
		return c.api.Delete(ctx, id)
	case "/image":
		path := strings.TrimSpace(rest)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		msg, err := c.api.Send(ctx, c.peer.ID, "", f, filepath.Base(path))
		if err != nil {
			return err
		}
		c.state.Confirm(msg)
		c.printMessage(msg, "")
		return nil
	}

	msg, err := c.api.Send(ctx, c.peer.ID, line, nil, "")
	if err != nil {
		return err
	}
	c.state.Confirm(msg)
	c.printMessage(msg, "")
	return nil
}
