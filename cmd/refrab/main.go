// Command refrab is the personal reference library CLI.
package main

import (
	"fmt"
	"os"

	"github.com/refrab/refrab/internal/adapters/driving/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
