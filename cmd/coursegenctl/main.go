// Command coursegenctl submits, inspects and drains course generation
// batches from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/phrazzld/coursegen/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
