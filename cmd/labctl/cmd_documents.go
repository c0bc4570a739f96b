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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Error      string `json:"error"`
}

type listResponse struct {
	Documents []datatypes.Document `json:"documents"`
}

func apiURL(path string) string {
	return serverURL + "/api/v1" + path
}

// decodeAPIError pulls the server's error message out of a failed response.
func decodeAPIError(resp *http.Response) string {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

func runUpload(cmd *cobra.Command, args []string) {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	if len(data) > datatypes.MaxUploadBytes {
		log.Fatalf("%s is %d bytes; the service accepts at most 10MB", path, len(data))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		log.Fatalf("Failed to build upload request: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		log.Fatalf("Failed to build upload request: %v", err)
	}
	if err := mw.Close(); err != nil {
		log.Fatalf("Failed to build upload request: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(apiURL("/documents/upload"), mw.FormDataContentType(), &buf)
	if err != nil {
		log.Fatalf("Failed to reach the pipeline service: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("Upload rejected (%d): %s", resp.StatusCode, decodeAPIError(resp))
	}

	var upload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		log.Fatalf("Failed to parse upload response: %v", err)
	}
	fmt.Printf("Uploaded %s as document %s\n", upload.Filename, upload.DocumentID)

	if watchUpload {
		followProgress(upload.DocumentID)
	}
}

func runList(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(apiURL("/documents"))
	if err != nil {
		log.Fatalf("Failed to reach the pipeline service: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("List failed (%d): %s", resp.StatusCode, decodeAPIError(resp))
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		log.Fatalf("Failed to parse list response: %v", err)
	}
	if len(list.Documents) == 0 {
		fmt.Println("No documents uploaded yet.")
		return
	}

	for _, doc := range list.Documents {
		line := fmt.Sprintf("%s  %-10s %3d%%  %s",
			doc.ID, doc.Status, doc.Progress, doc.Filename)
		if doc.ErrorMessage != "" {
			line += "  (" + doc.ErrorMessage + ")"
		}
		fmt.Println(line)
	}
}

func runGet(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(apiURL("/documents/" + args[0]))
	if err != nil {
		log.Fatalf("Failed to reach the pipeline service: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Get failed (%d): %s", resp.StatusCode, decodeAPIError(resp))
	}

	var doc datatypes.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		log.Fatalf("Failed to parse document: %v", err)
	}

	fmt.Printf("Document:  %s\n", doc.ID)
	fmt.Printf("Filename:  %s\n", doc.Filename)
	fmt.Printf("Status:    %s (%s, %d%%)\n", doc.Status, doc.ProcessingStage, doc.Progress)
	fmt.Printf("Uploaded:  %s\n", doc.UploadedAt.Format(time.RFC3339))
	if doc.ErrorMessage != "" {
		fmt.Printf("Error:     %s\n", doc.ErrorMessage)
	}
	if doc.Analysis == nil {
		return
	}

	fmt.Printf("\nSummary: %s\n", doc.Analysis.Summary)
	if len(doc.Analysis.Markers) > 0 {
		fmt.Println("\nMarkers:")
		for _, m := range doc.Analysis.Markers {
			fmt.Printf("  %-20s %s %s", m.Marker, m.Value, m.Unit)
			if m.ReferenceRange != "" {
				fmt.Printf("  (reference %s)", m.ReferenceRange)
			}
			fmt.Println()
		}
	}
	if len(doc.Analysis.KeyFindings) > 0 {
		fmt.Println("\nKey findings:")
		for _, f := range doc.Analysis.KeyFindings {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(doc.Analysis.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, r := range doc.Analysis.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	fmt.Printf("\n%s\n", doc.Analysis.Disclaimer)
}

func runDelete(cmd *cobra.Command, args []string) {
	req, err := http.NewRequest(http.MethodDelete, apiURL("/documents/"+args[0]), nil)
	if err != nil {
		log.Fatalf("Failed to build delete request: %v", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Failed to reach the pipeline service: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Delete failed (%d): %s", resp.StatusCode, decodeAPIError(resp))
	}
	fmt.Printf("Deleted document %s\n", args[0])
}

func runRetry(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(apiURL("/documents/"+args[0]+"/retry"), "application/json", nil)
	if err != nil {
		log.Fatalf("Failed to reach the pipeline service: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Retry failed (%d): %s", resp.StatusCode, decodeAPIError(resp))
	}
	fmt.Printf("Reprocessing document %s\n", args[0])
	followProgress(args[0])
}
