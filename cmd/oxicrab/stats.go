package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/memory"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Inspect cost and memory history",
	}
	cmd.AddCommand(statsCostsCmd())
	cmd.AddCommand(statsSearchCmd())
	return cmd
}

func openMemoryStoreReadOnly() (*memory.Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	store, err := memory.New(filepath.Join(dir, "memory.db"), memory.Config{}, nil)
	if err != nil {
		return nil, infraError("open memory store: %w", err)
	}
	if err := store.Init(context.Background()); err != nil {
		return nil, infraError("init memory store: %w", err)
	}
	return store, nil
}

func statsCostsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show spend recorded over the last N days (default: the last 24 hours)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpStatsCosts)
			store, err := openMemoryStoreReadOnly()
			if err != nil {
				return err
			}
			defer store.Close()

			if days <= 0 {
				days = 1
			}
			since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			cents, err := store.CostSince(context.Background(), since)
			if err != nil {
				return infraError("read cost ledger: %w", err)
			}
			fmt.Printf("spend over last %d day(s): $%.2f\n", days, float64(cents)/100)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 1, "lookback window in days")
	return cmd
}

func statsSearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search remembered entries by text relevance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpStatsSearch)
			store, err := openMemoryStoreReadOnly()
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.Search(context.Background(), args[0], nil, topK)
			if err != nil {
				return infraError("search memory: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, r := range results {
				fmt.Printf("[%.2f] %s: %s\n", r.Score, r.Kind, r.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top", 5, "max results")
	return cmd
}
