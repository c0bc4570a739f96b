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
	"log"
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL   string
	watchUpload bool

	rootCmd = &cobra.Command{
		Use:   "labctl",
		Short: "A cli to manage lab report documents in the LabInsights pipeline",
		Long: `labctl uploads lab reports (PDF, PNG, JPEG) to the LabInsights
				pipeline service and follows their processing progress.`,
	}

	uploadCmd = &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a lab report and start processing",
		Args:  cobra.ExactArgs(1),
		Run:   runUpload, // Defined in cmd_documents.go
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all documents, newest first",
		Run:   runList, // Defined in cmd_documents.go
	}

	getCmd = &cobra.Command{
		Use:   "get [document_id]",
		Short: "Show one document with its analysis",
		Args:  cobra.ExactArgs(1),
		Run:   runGet, // Defined in cmd_documents.go
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [document_id]",
		Short: "Delete a document, its analysis, and the stored original",
		Args:  cobra.ExactArgs(1),
		Run:   runDelete, // Defined in cmd_documents.go
	}

	retryCmd = &cobra.Command{
		Use:   "retry [document_id]",
		Short: "Reprocess a failed or stuck document from the stored original",
		Args:  cobra.ExactArgs(1),
		Run:   runRetry, // Defined in cmd_documents.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [document_id]",
		Short: "Follow a document's processing progress until it finishes",
		Args:  cobra.ExactArgs(1),
		Run:   runWatch, // Defined in cmd_watch.go
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	defaultServer := os.Getenv("LABINSIGHTS_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:12310"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer,
		"Base URL of the pipeline service")
	uploadCmd.Flags().BoolVarP(&watchUpload, "watch", "w", false,
		"Follow processing progress after the upload")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(watchCmd)
}
