package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/artifacts"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/config"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/executor"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/external"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/jobs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/policy"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/profiles"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/project"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/rpc"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/schema"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/secretref"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/sshmgr"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/state"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/tooldefs"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "sentryfrogg-mcp",
	Short:   "sentryfrogg-mcp - operator-free remote operations broker",
	Long:    `Exposes SSH execution, job management, and profile-backed dispatch over line-delimited JSON-RPC on stdio.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentryfrogg-mcp %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage stored connection profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known profile names and types",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore(config.Load())
		if err != nil {
			return err
		}
		for _, p := range store.List(false, false) {
			fmt.Printf("%s\t%s\n", p.Name, p.Type)
		}
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore(config.Load())
		if err != nil {
			return err
		}
		return store.Delete(args[0])
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileDeleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openProfileStore(cfg *config.Config) (*profiles.Store, error) {
	if err := os.MkdirAll(cfg.ProfilesDir, 0o700); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}
	key, err := profiles.LoadOrCreateKey(cfg.ProfileKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load profile key: %w", err)
	}
	cipher, err := profiles.NewAESGCMCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init profile cipher: %w", err)
	}
	return profiles.Open(filepath.Join(cfg.ProfilesDir, "profiles.json"), cipher)
}

func parseLogLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

func runServer() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	profileStore, err := openProfileStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open profile store")
	}

	projectStore, err := project.Open(cfg.ProjectsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open project store")
	}

	stateStore, err := state.Open(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}

	policySvc := policy.NewService(stateStore)

	sshPool := sshmgr.NewPool(profileStore)
	jobRegistry := jobs.NewRegistry(jobs.Options{
		MaxJobs: cfg.JobsMax,
		TTL:     cfg.JobsTTL,
		Path:    cfg.JobsPath,
		Persist: cfg.JobsStore == config.JobsStoreFile,
	})
	sshManager := sshmgr.NewManager(sshPool, jobRegistry, cfg.SSHExecTimeout)

	if err := os.MkdirAll(cfg.ContextRepoRoot, 0o700); err != nil {
		log.Fatal().Err(err).Msg("failed to create artifact root")
	}
	artifactStore := artifacts.NewStore(cfg.ContextRepoRoot)

	schemaRegistry := schema.NewRegistry()
	if err := tooldefs.Register(schemaRegistry); err != nil {
		log.Fatal().Err(err).Msg("failed to register tool schemas")
	}

	vaultClient, err := external.NewVaultClient()
	var vaultReader secretref.VaultReader
	if err != nil {
		log.Warn().Err(err).Msg("vault client unavailable; ref:vault resolution will fail")
	} else {
		vaultReader = vaultClient
	}
	secretResolver := secretref.New(vaultReader)

	var auditWriter external.AuditLogWriter = external.NopAuditLogWriter{}
	if w, err := external.NewJSONLAuditLogWriter(cfg.AuditPath); err != nil {
		log.Warn().Err(err).Msg("audit log unavailable; falling back to discard")
	} else {
		auditWriter = w
	}

	pgManager := external.NewPgxPostgresManager()
	defer pgManager.Close()
	httpManager := external.NewStdHTTPManager(cfg.ToolCallTimeout)

	dispatchers := map[string]executor.Dispatcher{
		"mcp_psql_manager": &external.PostgresDispatcher{Manager: pgManager, Profiles: profileStore},
		"mcp_http_manager": &external.HTTPDispatcher{Manager: httpManager, Profiles: profileStore},
		"mcp_vault_manager": external.NewVaultDispatcher(vaultClient, profileStore, cfg),
	}

	exec := executor.New(cfg, schemaRegistry, profileStore, projectStore, stateStore, policySvc, sshManager, jobRegistry, artifactStore, secretResolver, dispatchers, auditWriter)

	server := &rpc.Server{Executor: exec, Config: cfg, Version: Version}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("version", Version).Msg("sentryfrogg-mcp listening on stdio")
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("rpc server exited")
		return err
	}
	return nil
}
