package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/prepchain/internal/ir"
)

// NewHeadCommand creates the head command group. Every head move is
// refused when the target step reads a dataset that no longer exists.
func NewHeadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "head",
		Short: "Move a preparation's head",
	}
	cmd.AddCommand(
		newHeadMoveCommand(rootOpts),
		newHeadUndoCommand(rootOpts),
		newHeadRedoCommand(rootOpts),
	)
	return cmd
}

func headView(p ir.Preparation) HeadView {
	return HeadView{PreparationID: p.ID, Head: p.Head}
}

func newHeadMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <prep-id> <step-id>",
		Short: "Point the head at any step of the dataset's chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.MoveHead(ctx, args[0], args[1], a.user)
				if err != nil {
					return nil, err
				}
				return headView(p), nil
			})
		},
	}
}

func newHeadUndoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <prep-id>",
		Short: "Move the head to its parent step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.Undo(ctx, args[0], a.user)
				if err != nil {
					return nil, err
				}
				return headView(p), nil
			})
		},
	}
}

func newHeadRedoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redo <prep-id> <step-id>",
		Short: "Move the head forward to a descendant step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				p, err := a.svc.Redo(ctx, args[0], args[1], a.user)
				if err != nil {
					return nil, err
				}
				return headView(p), nil
			})
		},
	}
}

// NewCopyCommand creates the copy command.
func NewCopyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <target-prep-id> <source-prep-id>",
		Short: "Give an empty preparation the recipe of another",
		Long: `Copy the source preparation's steps into the target, which must not have
any steps yet. On the same dataset the target shares the source's chain;
across datasets the source's steps are replayed onto the target's origin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				r, err := a.svc.CopyStepsFrom(ctx, args[0], args[1], a.user)
				if err != nil {
					return nil, err
				}
				return editView(r), nil
			})
		},
	}
}
