package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/pairing"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage channel DM pairing requests",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func openPairingStore() (*pairing.Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	store, err := pairing.NewStore(filepath.Join(dir, "pairing.json"))
	if err != nil {
		return nil, infraError("open pairing store: %w", err)
	}
	return store, nil
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpPairingList)
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			pending := store.ListPending()
			if len(pending) == 0 {
				fmt.Println("no pending pairing requests")
				return nil
			}
			for _, p := range pending {
				expires := time.UnixMilli(p.ExpiresAt).Format(time.RFC3339)
				fmt.Printf("%s\t%s\t%s\texpires %s\n", p.Code, p.Channel, p.SenderID, expires)
			}
			return nil
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpPairingApprove)
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			if err := store.Approve(args[0]); err != nil {
				return userError("%w", err)
			}
			fmt.Println("approved")
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <channel> <sender-id>",
		Short: "Revoke a paired sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpPairingRevoke)
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			if err := store.Revoke(args[0], args[1]); err != nil {
				return infraError("revoke: %w", err)
			}
			fmt.Println("revoked")
			return nil
		},
	}
}
