package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/otaagent/cmd/ota-agent/app"
)

func main() {
	app.NewApp().Run()
}
