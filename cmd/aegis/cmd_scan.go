// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/pii_engine"
)

var scanDetailed bool

// scanCmd runs the embedded PII patterns locally, no gatekeeper needed.
// Useful for testing pattern changes before a deploy.
var scanCmd = &cobra.Command{
	Use:   "scan [text]",
	Short: "Scan text for sensitive entities locally",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner, err := pii_engine.NewScanner()
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")

		if scanDetailed {
			findings := scanner.ScanDetailed(text)
			if len(findings) == 0 {
				fmt.Println("no findings")
				return nil
			}
			return printJSON(findings)
		}

		verdict, entities := scanner.Scan(context.Background(), text)
		fmt.Printf("verdict:  %s\n", verdict)
		if len(entities) > 0 {
			fmt.Printf("entities: %s\n", strings.Join(entities, ", "))
		}
		if verdict != consensus.VerdictAccept {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanDetailed, "detailed", false,
		"Show every pattern match including low-confidence findings")
}
