package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"research-rag/internal/config"
	"research-rag/internal/helper"
	"research-rag/internal/models"
	"research-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := newRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "research-rag",
		Short:         "Question answering over uploaded documents",
		Long:          "Uploads documents, indexes them into a local vector store and answers questions with a hosted language model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)
			log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "Path to the YAML config file")

	loadApp := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), cfg)
	}

	rootCmd.AddCommand(createServeCommand(loadApp))
	rootCmd.AddCommand(createIngestCommand(loadApp))
	rootCmd.AddCommand(createAskCommand(loadApp))
	rootCmd.AddCommand(createSyncCommand(loadApp))
	rootCmd.AddCommand(createExportCommand(loadApp))
	rootCmd.AddCommand(createStatusCommand(loadApp))
	return rootCmd
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
}

type appLoader func(cmd *cobra.Command) (*app, error)

func createServeCommand(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			asker, err := a.newRAG()
			if err != nil {
				return err
			}
			a.warmIndex(ctx)

			return server.New(asker, a.indexer, a.cfg.Server).Run(ctx)
		},
	}
}

func createIngestCommand(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [folder]",
		Short: "Rebuild the index from a folder of documents",
		Long:  "Rebuild the index from every supported document in folder, or in the upload folder when none is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var build *models.IndexBuild
			if len(args) == 1 {
				build, err = a.indexer.IngestFolder(cmd.Context(), args[0])
			} else {
				build, err = a.indexer.Rebuild(cmd.Context())
			}
			if build != nil {
				helper.PrettyPrint(cmd.OutOrStdout(), build)
			}
			return err
		},
	}
}

func createAskCommand(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.newRAG()
			if err != nil {
				return err
			}
			resp, err := r.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			helper.PrettyPrint(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func createSyncCommand(loadApp appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the index to or from remote storage",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Upload the current index to remote storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.indexer.Push(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d objects to %s\n", n, a.syncer)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pull",
		Short: "Download the remote index and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			idx, err := a.indexer.Pull(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed version %s with %d chunks\n", idx.Version, idx.Count())
			return nil
		},
	})
	return cmd
}

func createExportCommand(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the current index as a gzipped chromem-go export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			idx, err := a.store.Current()
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			if err := idx.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close export file: %w", err)
			}
			log.Info().Str("file", args[0]).Str("version", idx.Version).Msg("Exported index")
			return nil
		},
	}
}

type statusReport struct {
	Version   string                `json:"version,omitempty"`
	Chunks    int                   `json:"chunks"`
	Remote    string                `json:"remote,omitempty"`
	LastBuild *models.IndexBuild    `json:"last_build,omitempty"`
	Documents []models.DocumentInfo `json:"documents"`
}

func createStatusCommand(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the served index and known documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var report statusReport
			if idx, err := a.store.Current(); err == nil {
				report.Version = idx.Version
				report.Chunks = idx.Count()
			} else {
				log.Warn().Err(err).Msg("No index loaded")
			}
			if a.syncer != nil {
				report.Remote = a.syncer.String()
			}
			if a.catalog != nil {
				if build, err := a.catalog.LatestBuild(ctx); err == nil {
					report.LastBuild = build
				}
			}
			if report.Documents, err = a.indexer.ListDocuments(ctx); err != nil {
				return err
			}
			helper.PrettyPrint(cmd.OutOrStdout(), report)
			return nil
		},
	}
}
