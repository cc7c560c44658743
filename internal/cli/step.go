package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/service"
)

// NewStepCommand creates the step command group: reading and editing a
// preparation's chain.
func NewStepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "List and edit the steps of a preparation",
		Long: `List and edit the steps on a preparation's head path.

Actions are written as an action name followed by its key=value parameters;
several actions may follow one another:

  uppercase column_id=0000 negate column_id=0001

Edits never change existing steps. Updating, deleting or reordering a step
re-creates every step after it and moves the head to the new chain.`,
	}
	cmd.AddCommand(
		newStepListCommand(rootOpts),
		newStepShowCommand(rootOpts),
		newStepResolveCommand(rootOpts),
		newStepAppendCommand(rootOpts),
		newStepUpdateCommand(rootOpts),
		newStepDeleteCommand(rootOpts),
		newStepReorderCommand(rootOpts),
	)
	return cmd
}

func newStepListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <prep-id>",
		Short: "List the head path, origin first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				path, err := a.svc.ListSteps(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return stepViews(path), nil
			})
		},
	}
}

func newStepShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <step-id>",
		Short: "Show any stored step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				s, err := a.svc.GetStep(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return stepViews([]ir.Step{s})[0], nil
			})
		},
	}
}

func newStepResolveCommand(opts *RootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "resolve <prep-id>",
		Short: "Print the ordered actions from the origin to a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				actions, err := a.svc.ResolveActions(ctx, args[0], ref)
				if err != nil {
					return nil, err
				}
				return ActionListView(actions), nil
			})
		},
	}
	cmd.Flags().StringVar(&ref, "step", ir.HeadRef, "step id on the head path, or head")
	return cmd
}

func newStepAppendCommand(opts *RootOptions) *cobra.Command {
	var each bool
	cmd := &cobra.Command{
		Use:   "append <prep-id> <action> [key=value...] [<action> [key=value...]...]",
		Short: "Append a step after the head",
		Long: `Append one step holding the given actions after the head.
With --each every action becomes its own step.

Examples:
  prepchain step append prep-1 uppercase column_id=0000
  prepchain step append prep-1 --each uppercase column_id=0000 negate column_id=0001`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := parseActions(args[1:])
			if err != nil {
				return opts.formatter(cmd).Fail(err)
			}
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				var r service.EditResult
				if each {
					r, err = a.svc.AppendEach(ctx, args[0], actions, a.user)
				} else {
					r, err = a.svc.Append(ctx, args[0], actions, a.user)
				}
				if err != nil {
					return nil, err
				}
				return editView(r), nil
			})
		},
	}
	cmd.Flags().BoolVar(&each, "each", false, "append one step per action")
	return cmd
}

func newStepUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <prep-id> <step-id> <action> [key=value...]...",
		Short: "Replace a step's actions and replay its descendants",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := parseActions(args[2:])
			if err != nil {
				return opts.formatter(cmd).Fail(err)
			}
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				r, err := a.svc.Update(ctx, args[0], args[1], actions, a.user)
				if err != nil {
					return nil, err
				}
				return editView(r), nil
			})
		},
	}
}

func newStepDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <prep-id> <step-id>",
		Short: "Remove a step and replay its descendants onto its parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				r, err := a.svc.Delete(ctx, args[0], args[1], a.user)
				if err != nil {
					return nil, err
				}
				return editView(r), nil
			})
		},
	}
}

func newStepReorderCommand(opts *RootOptions) *cobra.Command {
	var after string
	cmd := &cobra.Command{
		Use:   "reorder <prep-id> <step-id> --after <step-id>",
		Short: "Move a step to directly after another step",
		Long: `Move a step so it directly follows --after, which may be the origin.
The actions of the moved step are not checked against the steps it now
precedes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				r, err := a.svc.Reorder(ctx, args[0], args[1], after, a.user)
				if err != nil {
					return nil, err
				}
				return editView(r), nil
			})
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "step the moved step will follow (required)")
	_ = cmd.MarkFlagRequired("after")
	return cmd
}
