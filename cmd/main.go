package main

import "github.com/ZhenchangMin/AI-study-copilot/internal/cmd"

func main() {
	cmd.Execute()
}
