package app

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/otaagent/cmd/ota-agent/app/options"
	"github.com/autopeer-io/otaagent/pkg/app"
	"github.com/autopeer-io/otaagent/pkg/log"
)

const (
	commandName = "ota-agent"
	commandDesc = `The OTA agent runs on the device. It installs firmware pushed by the
update service into the inactive flash bank, reboots into it and rolls back
when the new image cannot reach the service.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the OTA update agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithConfigWatch(onConfigChange(opts)),
		app.WithSubCommands(newStatusCommand()),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		log.Init(opts.Log)

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}

// onConfigChange applies settings that can change without a restart.
func onConfigChange(opts *options.AgentOptions) app.ConfigChangeFunc {
	return func(fsnotify.Event) {
		if err := log.SetLevel(opts.Log.Level); err != nil {
			log.Error(err, "Failed to apply log level")
		}
	}
}
