package main

import (
	"os"

	"github.com/pilacorp/go-credential-registry/cmd/credreg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
