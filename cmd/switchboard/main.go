// Command switchboard runs the LLM request router.
package main

import (
	"os"

	"github.com/switchboard-ai/switchboard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
