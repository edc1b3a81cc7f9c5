// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/swifttarrow/collabBoard-sub000/pkg/logging"
	"github.com/swifttarrow/collabBoard-sub000/services/boardserver"
)

// Config is the YAML file layout for boardsync.
type Config struct {
	Server boardserver.Config `yaml:"server"`
	Log    struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

var (
	configPath string
	config     Config

	rootCmd = &cobra.Command{
		Use:   "boardsync",
		Short: "Development tools for the board sync core",
		Long: `boardsync runs the reference board server used for local
development and inspects the durable local outbox of a client.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadConfig()
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

// loadConfig fills config from the file at --config, or defaults. A
// missing file is fatal only when the flag was set explicitly.
func loadConfig() {
	config.Server.Addr = ":8080"
	config.Log.Level = "info"

	path := configPath
	explicit := path != ""
	if path == "" {
		path = "boardsync.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if explicit {
			log.Fatalf("Error reading config %s: %v", path, err)
		}
		return
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		log.Fatalf("Error parsing config %s: %v", path, err)
	}
}

func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(config.Log.Level),
		Service: "boardsync",
	})
}
