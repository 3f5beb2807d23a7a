// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package main

import (
	"fmt"
	"os"
	"runtime"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const logo = "🏏"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s cricket-bridge %s\n", logo, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := serveCmd(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s cricket-bridge - WhatsApp relay for the CSCC cricket agent v%s\n\n", logo, version)
	fmt.Println("Usage: cricket-bridge <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve       Run the bridge (transport + relay + HTTP surface)")
	fmt.Println("  status      Show a running bridge's health")
	fmt.Println("  version     Show version information")
}
