// Package cli implements the replyplace command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/replyplace/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Viper carries defaults, environment overrides and bound flags.
	Viper *viper.Viper

	// Logger is built from --verbose before any subcommand runs.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the replyplace CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Viper: config.New()}

	cmd := &cobra.Command{
		Use:   "replyplace",
		Short: "Replyplace - a shared pixel canvas drawn in Bluesky replies",
		Long: `A collaborative pixel canvas whose only input is replies to one Bluesky post.

Replies of the form "pixel <x>,<y> <#RRGGBB>" are collected from the thread
and the Jetstream firehose into a deduplicated command log, which is served
over HTTP for clients to render.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			slog.SetDefault(opts.Logger)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// flagBinding maps a command flag onto a config key.
type flagBinding struct {
	key  string
	flag string
}

// LoadConfig binds the given flags and resolves the configuration from the
// file, environment and flags, in increasing precedence. Bindings are made
// per run because viper keeps one flag per key.
func (o *RootOptions) LoadConfig(cmd *cobra.Command, bindings ...flagBinding) (config.Config, error) {
	if o.Viper == nil {
		o.Viper = config.New()
	}
	for _, b := range bindings {
		if err := o.Viper.BindPFlag(b.key, cmd.Flags().Lookup(b.flag)); err != nil {
			return config.Config{}, fmt.Errorf("bind --%s: %w", b.flag, err)
		}
	}
	return config.Load(o.Viper, o.ConfigPath)
}

// logger returns the configured logger, or the process default before
// PersistentPreRunE has run (subcommands executed directly in tests).
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
