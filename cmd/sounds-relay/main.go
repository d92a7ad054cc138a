// Command sounds-relay publishes BBC Sounds programmes as podcast feeds and
// relays their episodes as AAC.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
