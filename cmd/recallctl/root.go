package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/connections"
	"github.com/scrypster/recall/internal/engine"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// NewRootCmd creates the root recallctl command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recallctl",
		Short:         "Operate the recall memory pipeline",
		Long:          "recallctl stores, queues and retrieves scoped memories and inspects the ingestion queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.SetOutput(cmd.ErrOrStderr())
			log.SetPrefix("recallctl: ")
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to YAML config file (default: $RECALL_CONFIG)")

	root.AddCommand(
		newIngestCmd(),
		newEnqueueCmd(),
		newListCmd(),
		newSearchCmd(),
		newJobsCmd(),
		newJobCmd(),
		newStatsCmd(),
		newRecoverCmd(),
		newBackupCmd(),
		newImportCmd(),
		newVersionCmd(),
	)

	return root
}

// session is an open engine plus the backends it runs on.
type session struct {
	cfg     *config.Config
	manager *connections.Manager
	engine  *engine.MemoryEngine
}

// openSession loads configuration and opens the backends. The engine is
// not started.
func openSession(cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	manager, err := connections.NewManager(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	// A recall-worker may own every active job; only `recallctl recover`
	// requeues them, and only when the operator asks.
	eng, err := manager.NewEngine(engine.WithoutRecovery())
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	return &session{cfg: cfg, manager: manager, engine: eng}, nil
}

func (s *session) Close() error {
	return s.manager.Close()
}

// withSession runs fn against an open session and closes it afterwards.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("WARNING: failed to close backends: %v", err)
		}
	}()
	return fn(cmd.Context(), s)
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("owner", "", "owner (user) ID")
	cmd.Flags().String("session", "", "session (interaction) ID")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("session")
}

func scopeFlags(cmd *cobra.Command) (owner, sessionID string) {
	owner, _ = cmd.Flags().GetString("owner")
	sessionID, _ = cmd.Flags().GetString("session")
	return owner, sessionID
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recallctl %s\n", version)
		},
	}
}
