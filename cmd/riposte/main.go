// Command riposte load-tests asynchronous batch inference APIs.
package main

import (
	"os"

	"github.com/wesleyorama2/riposte/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
