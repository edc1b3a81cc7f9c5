// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/swifttarrow/collabBoard-sub000/services/board/datatypes"
	"github.com/swifttarrow/collabBoard-sub000/services/board/outbox"
	storagebadger "github.com/swifttarrow/collabBoard-sub000/services/board/storage/badger"
)

var (
	outboxDBPath  string
	outboxBoardID string

	outboxCmd = &cobra.Command{
		Use:   "outbox",
		Short: "Inspect a client's durable outbox",
	}

	outboxListCmd = &cobra.Command{
		Use:   "list",
		Short: "List pending and failed operations for a board",
		Run:   runOutboxList,
	}

	outboxCountsCmd = &cobra.Command{
		Use:   "counts",
		Short: "Show queue depth and backpressure advisory for a board",
		Run:   runOutboxCounts,
	}
)

func init() {
	outboxCmd.PersistentFlags().StringVar(&outboxDBPath, "db", "", "path to the local database directory (required)")
	outboxCmd.PersistentFlags().StringVar(&outboxBoardID, "board", "", "board id (required)")
	outboxCmd.MarkPersistentFlagRequired("db")
	outboxCmd.MarkPersistentFlagRequired("board")
	outboxCmd.AddCommand(outboxListCmd, outboxCountsCmd)
	rootCmd.AddCommand(outboxCmd)
}

// openOutbox opens the client database read-compatible and returns the
// queue plus a cleanup func.
func openOutbox() (*outbox.Queue, func()) {
	cfg := storagebadger.DefaultConfig()
	cfg.Path = outboxDBPath
	cfg.GCInterval = 0 // inspection only, no GC churn
	db, err := storagebadger.OpenDB(cfg)
	if err != nil {
		log.Fatalf("Error opening database at %s: %v", outboxDBPath, err)
	}
	return outbox.New(db, newLogger().Slog()), func() { db.Close() }
}

func runOutboxList(cmd *cobra.Command, args []string) {
	queue, cleanup := openOutbox()
	defer cleanup()
	ctx := context.Background()

	pending, err := queue.Pending(ctx, outboxBoardID)
	if err != nil {
		log.Fatalf("Error reading pending ops: %v", err)
	}
	failed, err := queue.Failed(ctx, outboxBoardID)
	if err != nil {
		log.Fatalf("Error reading failed ops: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tOP ID\tTYPE\tTARGET\tCREATED\tREASON")
	for _, op := range pending {
		fmt.Fprintf(w, "pending\t%s\t%s\t%s\t%s\t\n",
			op.OpID, op.Type, opTargetID(op), op.CreatedAt.Format(time.RFC3339))
	}
	for _, op := range failed {
		fmt.Fprintf(w, "failed\t%s\t%s\t%s\t%s\t%s\n",
			op.OpID, op.Type, opTargetID(op), op.CreatedAt.Format(time.RFC3339), op.FailureReason)
	}
	w.Flush()
}

func runOutboxCounts(cmd *cobra.Command, args []string) {
	queue, cleanup := openOutbox()
	defer cleanup()

	counts, err := queue.Counts(context.Background(), outboxBoardID)
	if err != nil {
		log.Fatalf("Error counting ops: %v", err)
	}
	fmt.Printf("board:   %s\n", outboxBoardID)
	fmt.Printf("pending: %d\n", counts.Pending)
	fmt.Printf("failed:  %d\n", counts.Failed)
	if msg := outbox.AdviceMessage(counts); msg != "" {
		fmt.Printf("advice:  %s\n", msg)
	}
}

func opTargetID(op datatypes.PendingOp) string {
	if op.Payload.Object != nil {
		return op.Payload.Object.ID
	}
	return op.Payload.TargetID
}
