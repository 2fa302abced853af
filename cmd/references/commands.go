package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	migrate "github.com/mikeydub/comment-references/db"
	"github.com/mikeydub/comment-references/server"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/persist/postgres"
	"github.com/mikeydub/comment-references/service/references"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolution API",
		RunE: func(cmd *cobra.Command, args []string) error {
			router, clients, err := server.Init(cmd.Context())
			if err != nil {
				return err
			}
			defer clients.Close()
			return server.ListenAndServe(cmd.Context(), router)
		},
	}
}

func newResolveCommand() *cobra.Command {
	var (
		content   string
		chainID   int
		commentID string
		revision  int
		strategy  string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the references in a piece of comment content and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := references.Strategy(strategy)
			if !s.IsValid() {
				return fmt.Errorf("unknown strategy %q", strategy)
			}

			server.SetDefaults()
			clients, err := server.ClientInit(cmd.Context())
			if err != nil {
				return err
			}
			defer clients.Close()

			res := clients.Service.Resolve(cmd.Context(), s, references.Request{
				CommentID: commentID,
				Revision:  revision,
				Content:   content,
				ChainID:   persist.ChainID(chainID),
			})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "Comment content to resolve")
	cmd.Flags().IntVar(&chainID, "chain-id", int(persist.ChainIDEthereum), "Chain the comment was posted on")
	cmd.Flags().StringVar(&commentID, "comment-id", "cli", "Comment id the result is cached under")
	cmd.Flags().IntVar(&revision, "revision", 0, "Comment revision the result is cached under")
	cmd.Flags().StringVar(&strategy, "strategy", string(references.StrategyNetworkFirst), "cache-first or network-first")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func newReresolveCommand() *cobra.Command {
	var (
		chainID int
		since   time.Duration
		limit   int
		workers int
	)

	cmd := &cobra.Command{
		Use:   "reresolve",
		Short: "Re-resolve recently updated comments network-first and upgrade their cached results",
		RunE: func(cmd *cobra.Command, args []string) error {
			server.SetDefaults()
			clients, err := server.ClientInit(cmd.Context())
			if err != nil {
				return err
			}
			defer clients.Close()

			comments, err := clients.Repos.CommentRepository.FindRecent(cmd.Context(), persist.ChainID(chainID), time.Now().Add(-since), limit)
			if err != nil {
				return err
			}

			summary := server.Reresolve(cmd.Context(), clients.Service, comments, workers)
			return json.NewEncoder(os.Stdout).Encode(summary)
		},
	}

	cmd.Flags().IntVar(&chainID, "chain-id", int(persist.ChainIDEthereum), "Chain to re-resolve comments on")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Re-resolve comments updated within this window")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum number of comments to re-resolve")
	cmd.Flags().IntVar(&workers, "workers", 10, "Comments resolved concurrently")

	return cmd
}

func newMigrateCommand() *cobra.Command {
	var version uint

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			server.SetDefaults()
			client, err := postgres.NewSQLClient(cmd.Context(), postgres.WithRetries(postgres.DefaultConnectRetry))
			if err != nil {
				return err
			}
			defer client.Close()

			if version > 0 {
				err = migrate.RunMigrationToVersion(client, version)
			} else {
				err = migrate.RunMigration(client)
			}
			if err != nil {
				return err
			}

			logger.For(cmd.Context()).Info("migrations applied")
			return nil
		},
	}

	cmd.Flags().UintVar(&version, "version", 0, "Migrate to this version instead of the latest")

	return cmd
}
