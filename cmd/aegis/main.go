// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
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
)

var (
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Operator CLI for the Aegis gatekeeper",
	Long: `Command-line client for the Aegis gatekeeper service.

The gatekeeper checks employee LLM queries for sensitive data and malicious
intent before they leave the network. This CLI talks to a running gatekeeper
for checks, health, and retraining, and can scan text locally without one.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s",
		"http://localhost:8321", "Gatekeeper base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key",
		os.Getenv("AEGIS_API_KEY"), "API key (defaults to AEGIS_API_KEY)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(scanCmd)
}
