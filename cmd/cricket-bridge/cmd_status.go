// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cscc/cricket-bridge/pkg/config"
)

// statusCmd queries a locally running bridge's /healthz.
func statusCmd() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s cricket-bridge Status\n", logo)
	fmt.Printf("Version: %s\n", formatVersion())
	fmt.Println()

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/healthz", cfg.Port))
	if err != nil {
		fmt.Printf("Bridge: not reachable on port %d (%v)\n", cfg.Port, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body struct {
		OK        bool   `json:"ok"`
		Connected bool   `json:"connected"`
		State     string `json:"state"`
		Me        string `json:"me"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Printf("Bridge: bad health response (%v)\n", err)
		os.Exit(1)
	}

	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Println("Bridge:", mark(body.OK), "on port", cfg.Port)
	fmt.Println("WhatsApp:", mark(body.Connected), body.State)
	if body.Me != "" {
		fmt.Println("Identity:", body.Me)
	}
	fmt.Println("As of:", body.Timestamp)
}
