// Command beeps-cli is a headless replica: it exercises the
// Document, ReplicaController, local store, and sync client from a
// terminal, standing in for the TUI/native/web front-ends this
// repository does not implement.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/hlc"
	"github.com/beepshq/beeps/internal/localstore"
	"github.com/beepshq/beeps/internal/metrics"
	"github.com/beepshq/beeps/internal/replicacontroller"
	"github.com/beepshq/beeps/internal/syncclient"
)

var (
	statePath  string
	serverURL  string
	tokenFlag  string
)

func main() {
	root := &cobra.Command{
		Use:   "beeps-cli",
		Short: "headless Beeps replica",
	}
	root.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(), "path to the local document file")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "sync service base URL (e.g. http://localhost:3000)")
	root.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer token (overrides the saved token file)")

	root.AddCommand(
		registerCmd(),
		loginCmd(),
		addPingCmd(),
		tagCmd(),
		rateCmd(),
		statusCmd(),
		runCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "beeps-cli: %v\n", err)
		os.Exit(1)
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "beeps.json"
	}
	return filepath.Join(home, ".beeps", "document.json")
}

func tokenPath() string { return statePath + ".token" }

func saveToken(token string) error {
	return os.WriteFile(tokenPath(), []byte(token), 0o600)
}

func loadToken() (string, error) {
	if tokenFlag != "" {
		return tokenFlag, nil
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", fmt.Errorf("no saved token at %s: run `register` or `login` first, or pass --token", tokenPath())
	}
	return string(data), nil
}

func requireServer() error {
	if serverURL == "" {
		return fmt.Errorf("--server is required")
	}
	return nil
}

func registerCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "create an account on the sync service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			token, err := syncclient.Register(cmd.Context(), serverURL, email, password)
			if err != nil {
				return err
			}
			if err := saveToken(token); err != nil {
				return err
			}
			fmt.Println("registered and saved session token")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "authenticate against an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			token, err := syncclient.Login(cmd.Context(), serverURL, email, password)
			if err != nil {
				return err
			}
			if err := saveToken(token); err != nil {
				return err
			}
			fmt.Println("logged in and saved session token")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func addPingCmd() *cobra.Command {
	var when string
	cmd := &cobra.Command{
		Use:   "add-ping",
		Short: "record a ping instant in the local document",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := localstore.New(statePath)
			doc, err := store.Load(randomNodeID(), nil)
			if err != nil {
				return err
			}

			instant := time.Now()
			if when != "" {
				instant, err = time.Parse(time.RFC3339, when)
				if err != nil {
					return fmt.Errorf("invalid --when: %w", err)
				}
			}

			doc.AddPing(instant)
			if err := store.Save(doc); err != nil {
				return err
			}
			fmt.Printf("recorded ping at %s\n", instant.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&when, "when", "", "RFC3339 instant (default now)")
	return cmd
}

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag <when> <tag|-->",
		Short: "set or clear a ping's tag (pass -- to clear)",
		Args: func(cmd *cobra.Command, args []string) error {
			// a bare "--" is consumed as the end-of-flags marker, so
			// "tag <when> --" arrives here as a single argument
			if len(args) == 1 && cmd.ArgsLenAtDash() == 1 {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("invalid <when>: %w", err)
			}

			store := localstore.New(statePath)
			doc, err := store.Load(randomNodeID(), nil)
			if err != nil {
				return err
			}

			var tag *string
			if len(args) == 2 && args[1] != "--" {
				tag = &args[1]
			}

			if _, err := doc.SetTag(when, tag); err != nil {
				return err
			}
			return store.Save(doc)
		},
	}
	return cmd
}

func rateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate <minutes-per-ping>",
		Short: "set the expected minutes between pings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var minutes int
			if _, err := fmt.Sscanf(args[0], "%d", &minutes); err != nil {
				return fmt.Errorf("invalid minutes: %w", err)
			}

			store := localstore.New(statePath)
			doc, err := store.Load(randomNodeID(), nil)
			if err != nil {
				return err
			}
			if _, err := doc.SetMinutesPerPing(minutes); err != nil {
				return err
			}
			return store.Save(doc)
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the local document's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := localstore.New(statePath)
			doc, err := store.Load(randomNodeID(), nil)
			if err != nil {
				return err
			}
			view := doc.View()
			fmt.Printf("minutes_per_ping: %d\n", view.MinutesPerPing)
			fmt.Printf("pings: %d\n", len(view.Pings))
			for _, p := range view.Pings {
				tag := view.Tags[p.UnixMicro()]
				if tag == "" {
					fmt.Printf("  %s\n", p.UTC().Format(time.RFC3339))
				} else {
					fmt.Printf("  %s  [%s]\n", p.UTC().Format(time.RFC3339), tag)
				}
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "drive the replica controller (schedule, sync, reveal) until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			token, err := loadToken()
			if err != nil {
				return err
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			store := localstore.New(statePath)
			doc, err := store.Load(randomNodeID(), nil)
			if err != nil {
				return err
			}

			m := metrics.NewMetrics("beeps_cli")
			client := syncclient.New(serverURL, token, logger, m)
			controller := replicacontroller.New(doc, store, client, consoleRevealer{}, logger, m, replicacontroller.DefaultConfig())
			if err := controller.LoadWatermarks(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return controller.Run(ctx)
		},
	}
}

// consoleRevealer prints newly-due pings to stdout as they surface.
type consoleRevealer struct{}

func (consoleRevealer) PingsRevealed(pings []time.Time) {
	for _, p := range pings {
		fmt.Printf("ping due: %s\n", p.UTC().Format(time.RFC3339))
	}
}

// randomNodeID picks a fresh node identifier for a brand new local
// document. Once a document file exists on disk, its persisted node_id
// is used instead (see document.Parse), so this only matters on first
// run.
func randomNodeID() hlc.NodeID {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return hlc.NodeID(time.Now().UnixNano())
	}
	return hlc.NodeID(binary.BigEndian.Uint32(buf[:]))
}
