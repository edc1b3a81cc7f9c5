// Copyright (C) 2025 Swift Tarrow Labs (dev@swifttarrow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "error", LevelError.String())
}

func TestLogger_StderrOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "test", Stderr: &buf})
	defer logger.Close()

	logger.Info("hello", "board_id", "b1")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "board_id=b1")
	assert.Contains(t, out, "service=test")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Service: "test", Stderr: &buf})
	defer logger.Close()

	logger.Debug("quiet")
	logger.Info("also quiet")
	logger.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestLogger_FileSink(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, Service: "filetest", LogDir: dir, Stderr: &buf})

	logger.Info("persisted line")
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "filetest_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted line")
	// File sink is JSON formatted.
	assert.Contains(t, string(data), `"msg"`)
}

func TestLogger_BadLogDirDegrades(t *testing.T) {
	var buf bytes.Buffer
	// A file path cannot be used as a directory.
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	logger := New(Config{Level: LevelInfo, Service: "test", LogDir: filepath.Join(file, "logs"), Stderr: &buf})
	defer logger.Close()

	logger.Info("still works")
	assert.Contains(t, buf.String(), "still works")
	assert.Contains(t, buf.String(), "file sink disabled")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "test", Stderr: &buf})
	defer logger.Close()

	child := logger.With("component", "session")
	child.Info("tick")
	assert.Contains(t, buf.String(), "component=session")
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger := New(Config{Level: LevelInfo, Service: "test", LogDir: t.TempDir(), Stderr: &bytes.Buffer{}})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}
