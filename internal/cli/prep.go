package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewPrepCommand creates the prep command group.
func NewPrepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prep",
		Short: "Create, list and manage preparations",
	}
	cmd.AddCommand(
		newPrepCreateCommand(rootOpts),
		newPrepListCommand(rootOpts),
		newPrepShowCommand(rootOpts),
		newPrepRenameCommand(rootOpts),
		newPrepCopyCommand(rootOpts),
		newPrepDeleteCommand(rootOpts),
	)
	return cmd
}

func newPrepCreateCommand(opts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <dataset-id>",
		Short: "Create an empty preparation on a dataset",
		Long: `Create a preparation whose head is the dataset's origin step.

Examples:
  prepchain prep create customers --name cleanup
  prepchain prep create customers --name cleanup --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.CreatePreparation(ctx, args[0], name, a.user)
				if err != nil {
					return nil, err
				}
				return PrepView{p}, nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "preparation name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPrepListCommand(opts *RootOptions) *cobra.Command {
	var datasetID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List preparations, optionally for one dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				preps, err := a.svc.ListPreparations(ctx, datasetID)
				if err != nil {
					return nil, err
				}
				out := make(PrepListView, len(preps))
				for i, p := range preps {
					out[i] = PrepView{p}
				}
				return out, nil
			})
		},
	}
	cmd.Flags().StringVar(&datasetID, "dataset", "", "only preparations on this dataset")
	return cmd
}

func newPrepShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <prep-id>",
		Short: "Show one preparation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.GetPreparation(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return PrepView{p}, nil
			})
		},
	}
}

func newPrepRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <prep-id> <name>",
		Short: "Rename a preparation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.RenamePreparation(ctx, args[0], args[1], a.user)
				if err != nil {
					return nil, err
				}
				return PrepView{p}, nil
			})
		},
	}
}

func newPrepCopyCommand(opts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "copy <prep-id>",
		Short: "Copy a preparation; the copy shares the source's steps",
		Long: `Create a new preparation, owned by --user, whose head is the source's
current head. Later edits to either preparation leave the other alone.

Examples:
  prepchain prep copy prep-1
  prepchain prep copy prep-1 --name "cleanup (fork)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.CopyPreparation(ctx, args[0], name, a.user)
				if err != nil {
					return nil, err
				}
				return PrepView{p}, nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the copy (default: the source's name)")
	return cmd
}

func newPrepDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <prep-id>",
		Short: "Delete a preparation; its steps stay in storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				if err := a.svc.DeletePreparation(ctx, args[0], a.user); err != nil {
					return nil, err
				}
				return DeletedView{PreparationID: args[0], Deleted: true}, nil
			})
		},
	}
}

// DeletedView confirms a preparation deletion.
type DeletedView struct {
	PreparationID string `json:"preparation_id"`
	Deleted       bool   `json:"deleted"`
}

func (v DeletedView) String() string { return v.PreparationID + ": deleted" }
