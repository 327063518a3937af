package app

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/otaagent/pkg/log"
)

// RunFunc runs the application once options are loaded and validated.
type RunFunc func() error

// ConfigChangeFunc is called after the watched config file changed and was
// unmarshalled into the options again.
type ConfigChangeFunc func(e fsnotify.Event)

// App is a cobra command backed by a NamedFlagSetOptions, a config file and the environment.
type App struct {
	name        string
	shortDesc   string
	description string

	options        NamedFlagSetOptions
	runFunc        RunFunc
	onConfigChange ConfigChangeFunc
	args           cobra.PositionalArgs
	commands       []*cobra.Command

	v   *viper.Viper
	cmd *cobra.Command
}

type Option func(*App)

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithConfigWatch enables hot reload of the config file.
func WithConfigWatch(fn ConfigChangeFunc) Option {
	return func(a *App) { a.onConfigChange = fn }
}

func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		v:         viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:          a.name,
		Short:        a.shortDesc,
		Long:         a.description,
		SilenceUsage: true,
		Args:         a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.Flags().SetNormalizeFunc(cliflag.WordSepNormalizeFunc)

	for _, sub := range a.commands {
		cmd.AddCommand(sub)
	}
	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	cfgFile := addConfigFlag(a.name, namedFlagSets.FlagSet("global"))
	globalflag.AddGlobalFlags(namedFlagSets.FlagSet("global"), cmd.Name())

	fs := cmd.Flags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, 80)

	cmd.PreRunE = func(*cobra.Command, []string) error {
		return loadConfig(a.v, a.name, *cfgFile)
	}

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if a.options != nil {
		if err := a.applyOptions(cmd); err != nil {
			return err
		}
		if a.onConfigChange != nil && a.v.ConfigFileUsed() != "" {
			a.watchConfig()
		}
	}

	return a.runFunc()
}

func (a *App) applyOptions(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := a.v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}

func (a *App) watchConfig() {
	a.v.OnConfigChange(func(e fsnotify.Event) {
		if err := a.v.Unmarshal(a.options); err != nil {
			log.Error(err, "Failed to reload configuration", "file", e.Name)
			return
		}
		if err := a.options.Validate(); err != nil {
			log.Error(err, "Reloaded configuration is invalid", "file", e.Name)
			return
		}
		log.Info("Configuration reloaded", "file", e.Name, "op", e.Op.String())
		a.onConfigChange(e)
	})
	a.v.WatchConfig()
}
