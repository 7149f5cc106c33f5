// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// n3 trains, evaluates and publishes a model described by a YAML run configuration.
//
// Example:
//
//	n3 -config=cmd/n3/blobs.yaml -set="epochs=20;learning_rate=0.05" -plots -publish=/tmp/models
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/n3/pkg/ml/config"
	"github.com/gomlx/n3/pkg/ml/train"
	"github.com/gomlx/n3/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig   = flag.String("config", "", "YAML file with the run configuration.")
	flagTrain    = flag.Bool("train", true, "Train the model.")
	flagEval     = flag.Bool("eval", true, "Evaluate the model on the evaluation dataset (classification only).")
	flagPublish  = flag.String("publish", "", "Directory where to publish the trained model. If empty, it is not published.")
	flagFloat16  = flag.Bool("float16", false, "Publish the parameters in half-precision.")
	flagPlots    = flag.Bool("plots", false, "Save one PNG plot per metric type in the experiment directory.")
	flagDescribe = flag.Bool("describe", false, "Print the structure of the model before training.")
	flagQuiet    = flag.Bool("quiet", false, "Don't display the progress bar.")
)

func main() {
	klog.InitFlags(nil)
	defaults := must.M1(config.Parse(nil))
	settings := commandline.CreateSettingsFlag(defaults.Params(), "set")
	flag.Parse()
	if *flagConfig == "" {
		klog.Errorf("Missing -config with the run configuration. See 'n3 -help'.")
		os.Exit(1)
	}

	token, stop := train.NewSignalToken()
	defer stop()
	err := exceptions.TryCatch[error](func() {
		must.M(run(options{
			configPath: *flagConfig,
			settings:   *settings,
			train:      *flagTrain,
			eval:       *flagEval,
			publishDir: *flagPublish,
			float16:    *flagFloat16,
			plots:      *flagPlots,
			describe:   *flagDescribe,
			quiet:      *flagQuiet,
			token:      token,
			out:        os.Stdout,
		}))
	})
	if err != nil {
		klog.Errorf("n3 failed: %+v", err)
		stop()
		os.Exit(1)
	}
	fmt.Println()
}
