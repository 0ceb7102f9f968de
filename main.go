package main

import "github.com/agentic-research/arbor/cmd"

func main() {
	cmd.Execute()
}
