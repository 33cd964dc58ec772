package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"travel-planner/internal/app"
	"travel-planner/internal/config"
)

type cli struct {
	configPath string
	envFile    string
	debug      bool
	logOut     io.Writer
	appOpts    []app.Option

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd(opts ...app.Option) *cobra.Command {
	c := &cli{logOut: os.Stderr, appOpts: opts}

	root := &cobra.Command{
		Use:           "travelplan",
		Short:         "Plan a trip with web research and a travel guide index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultConfigFile, "path to the TOML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", config.DefaultEnvFile, "path to a .env file")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable debug logging")

	root.AddCommand(c.completeCmd(), c.planCmd(), c.indexCmd())
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		c.logger = newLogger(c.logOut, c.debug)
		c.logger.Error().Err(err).Msg("failed to load config")
		return err
	}
	if c.debug {
		cfg.Debug = true
	}
	c.cfg = cfg
	c.logger = newLogger(c.logOut, cfg.Debug)
	return nil
}

func newLogger(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func (c *cli) completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Send the fixed persona conversation to the chat model and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Build(cmd.Context(), c.cfg, c.logger, c.appOpts...)
			if err != nil {
				return c.fail(err, "failed to build services")
			}
			if err := a.Completion.Print(cmd.Context(), cmd.OutOrStdout()); err != nil {
				return c.fail(err, "completion failed")
			}
			return nil
		},
	}
}

func (c *cli) planCmd() *cobra.Command {
	var (
		query     string
		markdown  bool
		skipIndex bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Research, index, retrieve and synthesize a travel plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if skipIndex {
				c.cfg.Index.Reindex = false
			}
			if !c.cfg.Index.Reindex {
				if err := c.requirePersistentStore(); err != nil {
					return err
				}
			}
			if strings.TrimSpace(query) == "" {
				query = c.cfg.Prompts.TravelQuery
			}
			a, err := app.Build(cmd.Context(), c.cfg, c.logger, c.appOpts...)
			if err != nil {
				return c.fail(err, "failed to build services")
			}
			out, err := a.Plan.Plan(cmd.Context(), query)
			if err != nil {
				return c.fail(err, "plan failed")
			}

			answer := out.Answer
			if markdown {
				rendered, err := glamour.Render(answer, "dark")
				if err != nil {
					c.logger.Warn().Err(err).Msg("markdown rendering failed, printing plain text")
				} else {
					answer = rendered
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
			return err
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "travel request (defaults to prompts.travel_query)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the answer as terminal markdown")
	cmd.Flags().BoolVar(&skipIndex, "skip-index", false, "reuse the existing index instead of rebuilding it")
	return cmd
}

func (c *cli) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Fetch the travel guide and load it into the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requirePersistentStore(); err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), c.cfg, c.logger, c.appOpts...)
			if err != nil {
				return c.fail(err, "failed to build services")
			}
			n, err := a.Indexer.Index(cmd.Context())
			if err != nil {
				return c.fail(err, "indexing failed")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks into %q\n", n, c.cfg.Index.Collection)
			return err
		},
	}
}

// errEphemeralStore is returned when a command needs an index that outlives
// the process but the memory store is configured.
var errEphemeralStore = errors.New(`the memory store does not outlive the process; set index.store = "dynamodb"`)

func (c *cli) requirePersistentStore() error {
	if c.cfg.Index.Store == config.StoreMemory {
		return c.fail(errEphemeralStore, "index would be discarded on exit")
	}
	return nil
}

func (c *cli) fail(err error, msg string) error {
	c.logger.Error().Err(err).Msg(msg)
	return err
}
