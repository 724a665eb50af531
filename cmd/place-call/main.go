package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dialtone-ai/dialtone/pkg/auth"
)

// place-call dials an outbound call through a running server. It mints
// its own operator token from the shared JWT secret, so it only works
// against deployments whose secret you hold.
func main() {
	baseURL := flag.String("url", envOr("API_URL", "http://localhost:8080"), "server base URL")
	taskID := flag.String("task", "", "task identifier (generated when empty)")
	objective := flag.String("objective", "", "call objective passed to the agent")
	operator := flag.String("operator", "cli", "operator identifier for the audit trail")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: place-call [flags] <phone-number>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	phoneNumber := flag.Arg(0)

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	token, _, err := auth.GenerateAccessToken(
		*operator,
		"operator",
		secret,
		envOr("JWT_ISSUER", "dialtone"),
		envOr("JWT_AUDIENCE", "dialtone-api"),
		15,
	)
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}

	payload, err := json.Marshal(map[string]string{
		"task_id":      *taskID,
		"phone_number": phoneNumber,
		"objective":    *objective,
	})
	if err != nil {
		log.Fatalf("Failed to marshal request: %v", err)
	}

	req, err := http.NewRequest("POST", *baseURL+"/api/calls", bytes.NewBuffer(payload))
	if err != nil {
		log.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		fmt.Printf("Call failed (status %d)\n%s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	var result struct {
		TaskID    string `json:"task_id"`
		SessionID string `json:"session_id"`
		CallRef   string `json:"call_ref"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Println(string(body))
		return
	}

	fmt.Println("Call placed")
	fmt.Printf("  task:    %s\n", result.TaskID)
	fmt.Printf("  session: %s\n", result.SessionID)
	fmt.Printf("  ref:     %s\n", result.CallRef)
	fmt.Printf("\nObserve with: ws://%s/ws/observe/%s\n", req.URL.Host, result.TaskID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
