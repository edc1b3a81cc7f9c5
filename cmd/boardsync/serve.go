// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swifttarrow/collabBoard-sub000/services/boardserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference board server",
	Long: `Serves the snapshot and op-submission endpoints plus the realtime
broadcast hub on an in-memory store. State does not survive a restart.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&config.Server.Addr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&config.Server.AuthToken, "auth-token", "", "require this bearer token on REST endpoints")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()
	config.Server.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := boardserver.New(config.Server)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("board server exited: %v", err)
	}
}
