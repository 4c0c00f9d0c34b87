package main

import "github.com/triage-ai/intervene/internal/cli"

func main() {
	cli.Execute()
}
