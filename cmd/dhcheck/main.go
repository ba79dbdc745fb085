package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/DistCompiler/pgo/authdh/concrete"
	"github.com/DistCompiler/pgo/authdh/configs"
	"github.com/DistCompiler/pgo/authdh/explore"
	"github.com/DistCompiler/pgo/authdh/invariant"
	"github.com/DistCompiler/pgo/authdh/trace"
)

func main() {
	os.Exit(dhcheck())
}

// dhcheck returns the exit status, so that deferred profiling still runs.
func dhcheck() int {
	var configPath, mode, profileMode, profileDir string
	flag.StringVar(&configPath, "c", "", "Config file")
	flag.StringVar(&mode, "mode", "", "Override the configured mode (exhaustive or simulate)")
	flag.StringVar(&profileMode, "profile", "", "Profile the run: cpu or mem")
	flag.StringVar(&profileDir, "profileDir", ".", "Where profiles are written")
	flag.Parse()

	if configPath == "" {
		logrus.Fatal("config file is not provided")
	}
	c, err := configs.ReadConfig(configPath)
	if err != nil {
		logrus.Fatal(err)
	}
	if mode != "" {
		c.Mode = mode
		if err := c.Validate(); err != nil {
			logrus.Fatal(err)
		}
	}

	switch profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(profileDir), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(profileDir), profile.NoShutdownHook).Stop()
	default:
		logrus.Fatalf("unknown profile mode %q", profileMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := run(ctx, c)
	if err != nil {
		logrus.Error(err)
		return 1
	}
	fmt.Println(report)
	for _, finding := range report.Findings {
		fmt.Printf("%s: %s\n", finding.Property, finding.Message)
		for i, step := range finding.Witness() {
			fmt.Printf("  %d. %s\n", i+1, step)
		}
	}
	if !report.Satisfied() {
		return 1
	}
	return 0
}

func setupLogger(c configs.Root) (*logrus.Logger, error) {
	log := logrus.StandardLogger()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	switch c.Log.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return log, nil
}

func run(ctx context.Context, c configs.Root) (report explore.Report, err error) {
	log, err := setupLogger(c)
	if err != nil {
		return report, err
	}
	env, err := c.Environment()
	if err != nil {
		return report, err
	}

	keys, err := concrete.SessionKeys(env)
	if err != nil {
		return report, err
	}
	log.WithFields(logrus.Fields{
		"run": string(env.Test()),
		"key": fmt.Sprintf("%x", keys[env.Test()][:8]),
	}).Info("test session key")

	configFns := []explore.ConfigFn{
		explore.WithLogger(log),
		explore.WithMaxDepth(c.MaxDepth),
		explore.WithMaxStates(c.MaxStates),
		explore.WithWorkers(c.Workers),
		explore.WithSeed(c.Seed),
		explore.WithLeakedNonces(c.LeakNonces),
		explore.WithStopOnFirst(c.StopOnFirst),
	}
	if c.Chooser == "roundrobin" {
		configFns = append(configFns, explore.WithChooser(explore.MakeRoundRobinChooser))
	}
	if len(c.Properties) > 0 {
		properties, err := invariant.ByName(c.Properties...)
		if err != nil {
			return report, err
		}
		configFns = append(configFns, explore.WithProperties(properties...))
	}
	// whatever is opened here belongs to the explorer once it exists
	var opened []io.Closer
	defer func() {
		for _, closer := range opened {
			err = multierr.Append(err, closer.Close())
		}
	}()
	if c.TraceFile != "" {
		recorder, err := trace.MakeLocalFileRecorder(c.TraceFile)
		if err != nil {
			return report, err
		}
		opened = append(opened, recorder)
		configFns = append(configFns, explore.WithRecorder(recorder))
	}
	if c.Store.Type == "badger" {
		store, err := explore.OpenBadgerStore(c.Store.Path)
		if err != nil {
			return report, err
		}
		opened = append(opened, store)
		configFns = append(configFns, explore.WithStore(store))
	}

	explorer := explore.New(env, configFns...)
	opened = nil
	defer func() {
		err = multierr.Append(err, explorer.Close())
	}()
	if c.Mode == "simulate" {
		return explorer.Simulate(ctx, c.Walks)
	}
	return explorer.Exhaustive(ctx)
}
