// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
)

var healthJSONOutput bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show gatekeeper health and component availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp datatypes.HealthResponse
		if err := callGatekeeper("GET", "/health", nil, &resp); err != nil {
			return err
		}
		if healthJSONOutput {
			return printJSON(resp)
		}
		fmt.Printf("status:   %s\n", resp.Status)
		if resp.AdapterVersion != "" {
			fmt.Printf("adapter:  %s\n", resp.AdapterVersion)
		} else {
			fmt.Println("adapter:  (none promoted)")
		}
		fmt.Printf("legacy:   %v\n", resp.LegacyEnabled)
		fmt.Printf("trainer:  %v\n", resp.TrainerEnabled)
		fmt.Printf("audit:    %v\n", resp.AuditEnabled)
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false, "Output as JSON")
}
