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
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

func runWatch(cmd *cobra.Command, args []string) {
	followProgress(args[0])
}

// followProgress attaches to the SSE stream and prints progress lines until
// the document reaches a terminal state. Exits non-zero on a failed
// document.
func followProgress(documentID string) {
	// No client timeout: the stream stays open for the whole pipeline and
	// the server heartbeats through idle stretches.
	resp, err := http.Get(apiURL("/documents/" + documentID + "/stream"))
	if err != nil {
		log.Fatalf("Failed to attach to progress stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Stream failed (%d): %s", resp.StatusCode, decodeAPIError(resp))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ev, ok := parseSSELine(scanner.Text())
		if !ok {
			continue
		}
		fmt.Println(formatEvent(ev))
		if ev.Terminal() {
			if ev.Status == datatypes.StatusError {
				os.Exit(1)
			}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Progress stream interrupted: %v", err)
	}
	log.Fatalf("Progress stream ended before the document finished")
}

// parseSSELine decodes one SSE line into an event. Comment frames and blank
// separators return ok=false.
func parseSSELine(line string) (datatypes.ProgressEvent, bool) {
	payload, found := strings.CutPrefix(line, "data: ")
	if !found {
		return datatypes.ProgressEvent{}, false
	}
	var ev datatypes.ProgressEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return datatypes.ProgressEvent{}, false
	}
	return ev, true
}

// formatEvent renders one progress line.
func formatEvent(ev datatypes.ProgressEvent) string {
	switch ev.Status {
	case datatypes.StatusComplete:
		line := fmt.Sprintf("[100%%] complete: %s", ev.Filename)
		if ev.AIInsights != nil {
			line += "\n" + ev.AIInsights.Summary
		}
		return line
	case datatypes.StatusError:
		return fmt.Sprintf("[%3d%%] error: %s", ev.Progress, ev.ErrorMessage)
	default:
		return fmt.Sprintf("[%3d%%] %s", ev.Progress, ev.ProcessingStage)
	}
}
