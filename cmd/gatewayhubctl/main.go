// cmd/gatewayhubctl/main.go
// Entrypoint for the `gatewayhubctl` operator CLI. Kept tiny, delegating to
// the root command in root.go, matching the teacher's cmd/flarego/main.go
// split between the binary's main() and its cobra command tree.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
