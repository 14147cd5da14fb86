// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay/explain"
)

// runExplainCommand asks the configured LLM provider to analyze a
// stored run's failures. The analysis is advisory; verdicts are
// already final.
func runExplainCommand(cmd *cobra.Command, args []string) {
	// Local models can take minutes per case; interruptible, no
	// deadline.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg := config.Global()

	store, err := openHistory(fileCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	defer store.Close()

	result, err := resolveRun(ctx, store, explainRunID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load run: %v\n", err)
		os.Exit(exitError)
	}
	if result.Success() {
		ux.Success(fmt.Sprintf("run %s passed; nothing to explain", result.RunID))
		return
	}

	exp, err := explain.NewExplainer(explainConfig(fileCfg), slogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "explain: %v\n", err)
		os.Exit(exitConfig)
	}

	if len(args) > 0 {
		// Collect first, print after: boxes interleave badly with a
		// live progress line.
		spin := ux.NewProgressSpinner("explaining", len(args))
		spin.Start()
		code := exitOK
		texts := make(map[string]string, len(args))
		for _, name := range args {
			text, err := exp.ExplainCase(ctx, result, name)
			spin.Increment()
			if err != nil {
				fmt.Fprintf(os.Stderr, "explain %s: %v\n", name, err)
				code = exitError
				continue
			}
			texts[name] = text
		}
		spin.Stop()
		for _, name := range args {
			if text, ok := texts[name]; ok {
				ux.Box(name, text)
			}
		}
		os.Exit(code)
	}

	spin := ux.NewSpinner("explaining failures")
	spin.Start()
	explanations := exp.ExplainRun(ctx, result)
	spin.Stop()
	if len(explanations) == 0 {
		ux.Warning("no explanations produced; check the provider configuration")
		os.Exit(exitError)
	}
	for _, v := range result.Verdicts {
		if text, ok := explanations[v.Case.Name]; ok {
			ux.Box(v.Case.Name, text)
		}
	}
}
