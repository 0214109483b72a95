package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin"

	"github.com/cronokirby/coalesce/internal/app"
)

func main() {
	command := kingpin.MustParse(app.App.Parse(os.Args[1:]))
	if err := app.Run(command); err != nil {
		fmt.Fprintln(os.Stderr, "coalesce:", err)
		os.Exit(1)
	}
}
