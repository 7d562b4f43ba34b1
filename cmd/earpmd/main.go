package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/earpm/cmd/earpmd/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewEarpmdCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
