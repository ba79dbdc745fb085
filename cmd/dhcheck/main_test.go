package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistCompiler/pgo/authdh/configs"
)

func TestRunSampleConfig(t *testing.T) {
	c, err := configs.ReadConfig("../../configs/handshake.yaml")
	require.NoError(t, err)
	c.Log.Level = "warn"

	for _, mode := range []string{"exhaustive", "simulate"} {
		t.Run(mode, func(t *testing.T) {
			c := c
			c.Mode = mode
			c.Walks = 10
			c.TraceFile = filepath.Join(t.TempDir(), "trace.jsonl")
			c.Store = configs.Store{Type: "badger", Path: filepath.Join(t.TempDir(), "badger")}

			report, err := run(context.Background(), c)
			require.NoError(t, err)
			assert.True(t, report.Satisfied(), "findings: %v", report.Findings)
			assert.Greater(t, report.States, 1)

			info, err := os.Stat(c.TraceFile)
			require.NoError(t, err)
			if mode == "simulate" {
				assert.Positive(t, info.Size())
			}
		})
	}
}

func TestRunRejectsUnknownProperty(t *testing.T) {
	c, err := configs.ReadConfig("../../configs/handshake.yaml")
	require.NoError(t, err)
	c.Log.Level = "warn"
	c.Properties = []string{"Liveness"}
	_, err = run(context.Background(), c)
	assert.Error(t, err)
}

func openFiles(t *testing.T) int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("open files cannot be counted here")
	}
	return len(entries)
}

func TestRunClosesTraceWhenStoreFails(t *testing.T) {
	c, err := configs.ReadConfig("../../configs/handshake.yaml")
	require.NoError(t, err)
	c.Log.Level = "warn"
	dir := t.TempDir()
	c.TraceFile = filepath.Join(dir, "trace.jsonl")
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	c.Store = configs.Store{Type: "badger", Path: filepath.Join(blocker, "badger")}

	before := openFiles(t)
	_, err = run(context.Background(), c)
	require.Error(t, err)
	assert.Equal(t, before, openFiles(t), "the trace file was left open")
}

func TestRunTwiceOnSameBadgerDir(t *testing.T) {
	c, err := configs.ReadConfig("../../configs/handshake.yaml")
	require.NoError(t, err)
	c.Log.Level = "warn"
	c.Store = configs.Store{Type: "badger", Path: filepath.Join(t.TempDir(), "badger")}

	first, err := run(context.Background(), c)
	require.NoError(t, err)
	second, err := run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, first.States, second.States)
	assert.Equal(t, first.Transitions, second.Transitions)
}
