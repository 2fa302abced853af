package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikeydub/comment-references/service/logger"
	sentryutil "github.com/mikeydub/comment-references/service/sentry"
)

func main() {
	defer sentryutil.RecoverAndRaise(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "references",
		Short:         "Resolve the references mentioned in onchain comments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newResolveCommand(),
		newReresolveCommand(),
		newMigrateCommand(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		logger.For(ctx).WithError(err).Error("command failed")
		os.Exit(1)
	}
}
