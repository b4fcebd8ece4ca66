// Command calsync runs the cross-pod sharing endpoint and the maintenance
// tools of a calsync store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/calsync/internal/cli"
)

func main() {
	ctx := context.Background()
	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
