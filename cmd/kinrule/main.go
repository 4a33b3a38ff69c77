// Command kinrule records automation rules for kintone apps.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/kinrule/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
