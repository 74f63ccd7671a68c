// Package main provides the grainsql CLI.
package main

import (
	"os"

	"github.com/millstone-labs/grainsql/internal/cli"

	_ "github.com/millstone-labs/grainsql/pkg/adapters/duckdb"
	_ "github.com/millstone-labs/grainsql/pkg/adapters/postgres"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
