// Command dts runs a single replication task described by a .toml
// config file, in one of snapshot/cdc/check/revise/review mode (spec §1,
// §6).
package main

import (
	"fmt"
	"os"

	"github.com/dtstream/dts/pkg/logutil"
	_ "go.uber.org/automaxprocs"
)

func main() {
	defer logutil.Sync()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
