package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/blemote/internal/sim"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Run a scenario against an in-memory radio",
	Long: `Drives the peripheral with a simulated adapter and centrals and prints a
transcript. The command fails when an expectation is not met.

A scenario is a list of steps:

  name: subscribe and publish
  steps:
    - adapter: on
    - connect: "AA:01"
    - subscribe: "AA:01"
    - publish: {motionX: 10}
    - expect:
        state: active
        subscribers: ["AA:01"]
        notifications: {"AA:01": 1}
        payload: {motionX: 10}`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	scenario, err := sim.LoadScenarioFile(args[0])
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, nil)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	return sim.NewRunner(logger, cmd.OutOrStdout()).Run(scenario)
}
