package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the configuration shared by every subcommand.
type cli struct {
	v   *viper.Viper
	cfg Config
}

func (c *cli) setupConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	cmd := &cobra.Command{
		Use:               "assertflow",
		Short:             "Run workflows whose steps carry before/after assertions",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setupConfig,
	}
	if err := setupFlags(cmd, c.v); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		c.runCmd(),
		c.validateCmd(),
		c.checkCmd(),
		c.historyCmd(),
		c.scheduleCmd(),
		c.serveCmd(),
		c.diagramCmd(),
		versionCmd(),
	)
	return cmd
}

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exit.err)
		}
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
