// Command clog runs a single clog agent: a commit log, a gRPC front
// door, and Serf-based membership wired together so the process can join
// a cluster and replicate whatever its peers produce.
package main

import (
	"fmt"
	"os"
)

func main() {
	cli := NewCLI()
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
