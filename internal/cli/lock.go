package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewLockCommand creates the lock command.
func NewLockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <prep-id>",
		Short: "Take the edit lock on a preparation",
		Long: `Take the edit lock for --user. While it is held only that user may write
to the preparation. Locking again as the holder refreshes the lock.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				l, err := a.svc.Lock(ctx, args[0], a.user)
				if err != nil {
					return nil, err
				}
				v := LockView{PreparationID: args[0], Holder: l.Holder}
				if at, ok := a.svc.LockExpiry(l); ok {
					v.ExpiresAt = &at
				}
				return v, nil
			})
		},
	}
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <prep-id>",
		Short: "Release the edit lock if --user holds it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				if err := a.svc.Unlock(ctx, args[0], a.user); err != nil {
					return nil, err
				}
				p, err := a.svc.GetPreparation(ctx, args[0])
				if err != nil {
					return nil, err
				}
				v := LockView{PreparationID: p.ID}
				if p.Lock != nil {
					v.Holder = p.Lock.Holder
				}
				return v, nil
			})
		},
	}
}
