package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dubu13/webserv/pkg/cgi"
	"github.com/dubu13/webserv/pkg/config"
	"github.com/dubu13/webserv/pkg/files"
	"github.com/dubu13/webserv/pkg/handler"
	"github.com/dubu13/webserv/pkg/metrics"
	"github.com/dubu13/webserv/pkg/server"
)

// defaultConfigPath is used when no configuration file is given on the
// command line.
const defaultConfigPath = "config/webserv.conf"

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Errorf("webserv: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var workers int

	cmd := &cobra.Command{
		Use:           "webserv [CONFIG_PATH]",
		Short:         "Configurable HTTP/1.1 origin server",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			log.SetLevel(level)

			configPath := defaultConfigPath
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath, workers)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log verbosity (debug, info, warn, error)")
	cmd.Flags().IntVar(&workers, "workers", 1, "number of reactor workers; endpoints are split across them")
	return cmd
}

func run(configPath string, workers int) error {
	// INT, TERM, and QUIT all request a graceful stop; the reactors observe
	// the context on their next loop iteration. SIGPIPE is already ignored
	// by the runtime and socket writes use MSG_NOSIGNAL besides.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	loader := config.NewLoader(log.WithField("component", "config"))
	cfg, err := loader.LoadFile(configPath)
	if err != nil {
		return err
	}

	multi := server.NewMultiManager(log, cfg, workers, func(part *config.Config, worker int) *server.Manager {
		reactorLog := log.WithFields(logrus.Fields{"component": "reactor", "worker": worker})
		fileService := files.NewService(log.WithField("component", "files"))
		cgiRunner := cgi.NewRunner(
			log.WithField("component", "cgi"),
			log.WithField("component", "cgi-script"),
		)
		dispatcher := handler.New(
			log.WithField("component", "handler"),
			fileService,
			files.NewCache(0),
			cgiRunner,
		)
		return server.NewManager(reactorLog, part, dispatcher, metrics.NewTracker(reactorLog))
	})

	if err := multi.Run(ctx); err != nil {
		return err
	}
	log.Infoln("webserv stopped")
	return nil
}
