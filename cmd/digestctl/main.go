// Command digestctl inspects and runs the weekly digest from a terminal.
//
//	digestctl week --date 2024-03-12 --format yaml
//	digestctl preview --out digest.html
//	digestctl run --dry-run
//
// Configuration comes from the same environment variables as the API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
