package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiredm/internal/client"
	"github.com/vovakirdan/wiredm/internal/core"
)

func newSmokeCmd(opts *globalOptions) *cobra.Command {
	var (
		text    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Register two throwaway users and check send, push and read receipts end to end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runSmoke(ctx, opts, text)
		},
	}
	cmd.Flags().StringVar(&text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "total timeout for the run")
	return cmd
}

func runSmoke(ctx context.Context, opts *globalOptions, text string) error {
	suffix := uuid.NewString()[:8]
	sender, receiver := newAPI(opts), newAPI(opts)
	if err := sender.Register(ctx, "smoke_a_"+suffix, "", "smoke-password"); err != nil {
		return fmt.Errorf("register sender: %w", err)
	}
	if err := receiver.Register(ctx, "smoke_b_"+suffix, "", "smoke-password"); err != nil {
		return fmt.Errorf("register receiver: %w", err)
	}

	senderConn, err := client.Dial(ctx, opts.wsURL(), sender.Token())
	if err != nil {
		return err
	}
	defer senderConn.Close()
	receiverConn, err := client.Dial(ctx, opts.wsURL(), receiver.Token())
	if err != nil {
		return err
	}
	defer receiverConn.Close()

	// The receiver is registered with the hub once its own presence comes back.
	if _, err := waitFor(ctx, receiverConn, core.EventPresenceChanged, func(ev *core.Event) bool {
		return contains(ev.OnlineUserIDs, receiver.UserID())
	}); err != nil {
		return err
	}

	msg, err := sender.Send(ctx, receiver.UserID(), text, nil, "")
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("sent message %d\n", msg.ID)

	created, err := waitFor(ctx, receiverConn, core.EventMessageCreated, nil)
	if err != nil {
		return err
	}
	if created.Message.ID != msg.ID || created.Message.Text != text {
		return fmt.Errorf("unexpected message pushed: %+v", created.Message)
	}
	fmt.Printf("receiver got message %d (seq %d)\n", created.Message.ID, created.Seq)

	if err := receiverConn.MarkRead(ctx, sender.UserID()); err != nil {
		return err
	}
	if _, err := waitFor(ctx, senderConn, core.EventReadStatusChanged, func(ev *core.Event) bool {
		return ev.ReaderID == receiver.UserID()
	}); err != nil {
		return err
	}
	fmt.Println("sender got read receipt")

	counts, err := receiver.UnreadCounts(ctx, receiver.UserID())
	if err != nil {
		return err
	}
	if n := counts[sender.UserID()]; n != 0 {
		return fmt.Errorf("expected no unread messages, server reports %d", n)
	}

	fmt.Println("smoke test passed for users " + strconv.FormatInt(sender.UserID(), 10) + " and " + strconv.FormatInt(receiver.UserID(), 10))
	return nil
}

func waitFor(ctx context.Context, conn *client.Conn, kind core.EventKind, match func(*core.Event) bool) (*core.Event, error) {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", kind, err)
		}
		if ev.Kind == core.EventError {
			return nil, fmt.Errorf("server error: %s", ev.Error.Message)
		}
		if ev.Kind == kind && (match == nil || match(ev)) {
			return ev, nil
		}
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
