package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiredm/internal/client"
)

type globalOptions struct {
	server   string
	username string
	password string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "dmclient",
		Short:         "Terminal client for a wiredm server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.server, "server", "s", "http://localhost:8080", "server base URL")
	pf.StringVarP(&opts.username, "user", "u", "", "username")
	pf.StringVarP(&opts.password, "password", "p", "", "password (or $WIREDM_PASSWORD)")

	root.AddCommand(
		newRegisterCmd(opts),
		newUsersCmd(opts),
		newChatCmd(opts),
		newSmokeCmd(opts),
	)
	return root
}

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	var fullName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := newAPI(opts)
			if err := api.Register(cmd.Context(), opts.username, fullName, opts.passwordOrEnv()); err != nil {
				return err
			}
			fmt.Printf("registered %s (id %d)\n", opts.username, api.UserID())
			return nil
		},
	}
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name")
	return cmd
}

func newUsersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List conversation partners with presence and unread counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			api, err := login(ctx, opts)
			if err != nil {
				return err
			}

			partners, err := api.Partners(ctx)
			if err != nil {
				return err
			}
			unread, err := api.UnreadCounts(ctx, api.UserID())
			if err != nil {
				return err
			}

			for _, p := range partners {
				status := "offline"
				switch {
				case p.IsOnline:
					status = "online"
				case p.LastSeen != nil:
					status = "last seen " + p.LastSeen.Local().Format(time.DateTime)
				}
				line := fmt.Sprintf("%-16s %-24s %s", p.Username, p.FullName, status)
				if n := unread[p.ID]; n > 0 {
					line += fmt.Sprintf("  (%d unread)", n)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newAPI(opts *globalOptions) *client.API {
	return client.NewAPI(opts.server, &http.Client{Timeout: 15 * time.Second})
}

func login(ctx context.Context, opts *globalOptions) (*client.API, error) {
	if opts.username == "" {
		return nil, fmt.Errorf("--user is required")
	}
	api := newAPI(opts)
	if err := api.Login(ctx, opts.username, opts.passwordOrEnv()); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return api, nil
}

func (o *globalOptions) passwordOrEnv() string {
	if o.password != "" {
		return o.password
	}
	return os.Getenv("WIREDM_PASSWORD")
}

func (o *globalOptions) wsURL() string {
	base := strings.TrimRight(o.server, "/")
	base = strings.Replace(base, "http", "ws", 1)
	return base + "/ws"
}
