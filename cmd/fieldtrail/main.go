package main

import (
	"os"

	"github.com/mickamy/fieldtrail/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
