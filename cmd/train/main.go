package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/training"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
	klog.Flush()
}

// run parses args, merges defaults < config file < -set overrides and trains.
// With -print-effective-config the merged bundle is written to out instead.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	klog.InitFlags(fs)
	configPath := fs.String("config", "", "path to a JSON, HCL or gob parameter file (optional). Values override the built-in defaults.")
	var overrides config.Overrides
	fs.Var(&overrides, "set", "KEY=VALUE parameter override, may be repeated (e.g. -set MAX_EPOCH=20 -set EVAL_ON_SETS='[\"val\",\"test\"]')")
	printEffectiveConfig := fs.Bool("print-effective-config", false, "print the effective (defaults+file+flags) configuration and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := config.Defaults()
	if *configPath != "" {
		fromFile, err := config.LoadFile(*configPath)
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		params.Merge(fromFile)
	}
	if err := overrides.Apply(params); err != nil {
		return errors.Wrap(err, "bad -set value")
	}

	if *printEffectiveConfig {
		body, err := json.MarshalIndent(params, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode config")
		}
		_, err = fmt.Fprintln(out, string(body))
		return err
	}

	// VERBOSE raises klog verbosity unless -v was given explicitly.
	if verbose, err := params.IntOr("VERBOSE", 0); err == nil && verbose > 0 {
		if v := fs.Lookup("v"); v != nil && v.Value.String() == "0" {
			_ = v.Value.Set(strconv.Itoa(verbose))
		}
	}

	return training.TrainModel(ctx, params, training.DefaultCollaborators())
}
