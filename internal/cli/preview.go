package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/preview"
	"github.com/roach88/prepchain/internal/service"
)

// NewPreviewCommand creates the preview command group. Previews run the
// recipe before and after an edit over a dataset sample and print the
// row and column differences without changing anything.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what an edit would change on a dataset sample",
		Long: `Show what an edit would change on a dataset sample.

Each output row is tagged with the 1-based sample row it comes from (0 for
rows an action invents) and classified unchanged, updated, deleted or
created. --rows limits the output to some sample rows.`,
	}
	cmd.AddCommand(
		newPreviewAddCommand(rootOpts),
		newPreviewUpdateCommand(rootOpts),
		newPreviewDeleteCommand(rootOpts),
		newPreviewDiffCommand(rootOpts),
	)
	return cmd
}

func previewResult(res *preview.Result, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return previewView(res)
}

func newPreviewAddCommand(opts *RootOptions) *cobra.Command {
	var (
		datasetID string
		ref       string
		rows      []int
	)
	cmd := &cobra.Command{
		Use:   "add [<prep-id>] <action> [key=value...]...",
		Short: "Preview appending actions",
		Long: `Preview appending actions to a preparation's recipe (at its head, or at
--step), or to an empty recipe on --dataset.

Examples:
  prepchain preview add prep-1 delete_lines column_id=0000 value=BOB
  prepchain preview add --dataset customers uppercase column_id=0000 --rows 1,2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.AddPreview{DatasetID: datasetID, StepRef: ref, RowIndices: rows}
			words := args
			if datasetID == "" {
				req.PreparationID, words = args[0], args[1:]
			}
			actions, err := parseActions(words)
			if err != nil {
				return opts.formatter(cmd).Fail(err)
			}
			req.Actions = actions
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				return previewResult(a.svc.PreviewAdd(ctx, req))
			})
		},
	}
	cmd.Flags().StringVar(&datasetID, "dataset", "", "preview against a bare dataset instead of a preparation")
	cmd.Flags().StringVar(&ref, "step", "", "build on this step instead of the head")
	cmd.Flags().IntSliceVar(&rows, "rows", nil, "only report these 1-based sample rows")
	return cmd
}

func newPreviewUpdateCommand(opts *RootOptions) *cobra.Command {
	var rows []int
	cmd := &cobra.Command{
		Use:   "update <prep-id> <step-id> <action> [key=value...]...",
		Short: "Preview replacing a step's actions",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := parseActions(args[2:])
			if err != nil {
				return opts.formatter(cmd).Fail(err)
			}
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				return previewResult(a.svc.PreviewUpdate(ctx, args[0], args[1], actions, rows))
			})
		},
	}
	cmd.Flags().IntSliceVar(&rows, "rows", nil, "only report these 1-based sample rows")
	return cmd
}

func newPreviewDeleteCommand(opts *RootOptions) *cobra.Command {
	var rows []int
	cmd := &cobra.Command{
		Use:   "delete <prep-id> <step-id>",
		Short: "Preview removing a step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				return previewResult(a.svc.PreviewDelete(ctx, args[0], args[1], rows))
			})
		},
	}
	cmd.Flags().IntSliceVar(&rows, "rows", nil, "only report these 1-based sample rows")
	return cmd
}

func newPreviewDiffCommand(opts *RootOptions) *cobra.Command {
	var (
		from, to string
		rows     []int
	)
	cmd := &cobra.Command{
		Use:   "diff <prep-id> --from <step-id> [--to <step-id>]",
		Short: "Compare the recipe at two steps of the head path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				return previewResult(a.svc.PreviewDiff(ctx, args[0], from, to, rows))
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "baseline step (required)")
	cmd.Flags().StringVar(&to, "to", ir.HeadRef, "candidate step")
	cmd.Flags().IntSliceVar(&rows, "rows", nil, "only report these 1-based sample rows")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// NewSampleCommand creates the sample command.
func NewSampleCommand(opts *RootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "sample <prep-id>",
		Short: "Print the dataset sample transformed by the recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				s, err := a.svc.Sample(ctx, args[0], ref)
				if err != nil {
					return nil, err
				}
				return sampleView(s), nil
			})
		},
	}
	cmd.Flags().StringVar(&ref, "step", ir.HeadRef, "step on the head path, or head")
	return cmd
}

// NewActionsCommand creates the actions command.
func NewActionsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the actions recipes may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				return catalogView(a.svc.Registry().List()), nil
			})
		},
	}
}
