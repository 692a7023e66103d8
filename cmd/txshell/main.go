package main

import (
	"fmt"
	"os"

	"txlite/internal/app"
	"txlite/internal/config"
)

func main() {
	application, err := app.New(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			fmt.Println(err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := application.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
