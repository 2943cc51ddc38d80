package main

import (
	"os"

	"github.com/ledgerly/servicing-app/bulkworker/cli"
	"github.com/ledgerly/servicing-app/log"
)

func main() {
	app := cli.GetApp()
	if err := app.Run(os.Args); err != nil {
		log.Worker.Fatal(err)
	}
}
