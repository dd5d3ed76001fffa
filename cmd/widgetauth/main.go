package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/moweilong/widgetauth/cmd/widgetauth/app"
)

func main() {
	cmd := app.NewWidgetAuthCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
