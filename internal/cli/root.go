package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// Version is stamped into trace resources and the version command.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Database, Store and Datasets override PREPCHAIN_DB_PATH,
	// PREPCHAIN_STORE and PREPCHAIN_DATASET_DIR when set.
	Database string
	Store    string
	Datasets string

	// User is the identity edits and locks are attributed to.
	User string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the prepchain CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "prepchain",
		Short: "prepchain - versioned data preparation recipes",
		Long: `Manage data preparations whose recipes are content-addressed chains of steps.

Every edit creates new immutable steps and moves the preparation's head;
previews show the effect of an edit on a dataset sample before it is made.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "store path (default $PREPCHAIN_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "store backend, sqlite or badger (default $PREPCHAIN_STORE)")
	cmd.PersistentFlags().StringVar(&opts.Datasets, "datasets", "", "CSV dataset directory (default $PREPCHAIN_DATASET_DIR)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", defaultUser(), "user performing the operation")

	cmd.AddCommand(NewPrepCommand(opts))
	cmd.AddCommand(NewStepCommand(opts))
	cmd.AddCommand(NewHeadCommand(opts))
	cmd.AddCommand(NewCopyCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))
	cmd.AddCommand(NewSampleCommand(opts))
	cmd.AddCommand(NewActionsCommand(opts))
	cmd.AddCommand(NewRecipeCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func defaultUser() string {
	if u := os.Getenv("PREPCHAIN_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// formatter builds the OutputFormatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
