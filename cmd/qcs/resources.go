package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/spf13/cobra"
)

func newLatticesCommand(state *cliState) *cobra.Command {
	var (
		deviceName   string
		rawNumQubits string
	)
	cmd := &cobra.Command{
		Use:   "lattices",
		Short: "View available lattices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := qcs.LatticeFilter{DeviceName: deviceName}
			if rawNumQubits != "" {
				numQubits, err := parsePositiveInteger(rawNumQubits)
				if err != nil {
					return fmt.Errorf("please supply a positive integer for number of qubits")
				}
				filter.NumQubits = int(numQubits)
			}
			client, err := state.open(cmd)
			if err != nil {
				return err
			}
			result, err := client.service.Lattices(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return client.renderer.Lattices(result.Value)
		},
	}
	cmd.Flags().StringVarP(&deviceName, "device", "d", "", "device from which lattices should be queried")
	cmd.Flags().StringVarP(&rawNumQubits, "num-qubits", "n", "", "show only lattices with n qubits")
	return cmd
}

func newDevicesCommand(state *cliState) *cobra.Command {
	var deviceName string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "View available QPU devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.open(cmd)
			if err != nil {
				return err
			}
			devices, err := client.service.Devices(cmd.Context(), deviceName)
			if err != nil {
				return err
			}
			if deviceName != "" && len(devices) == 0 {
				return fmt.Errorf("unknown device name %q", deviceName)
			}
			return client.renderer.Devices(devices)
		},
	}
	cmd.Flags().StringVarP(&deviceName, "name", "n", "", "limit output to the named device")
	return cmd
}

func newCreditsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "View available credits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.open(cmd)
			if err != nil {
				return err
			}
			credits, err := client.service.Credits(cmd.Context())
			if err != nil {
				return err
			}
			return client.renderer.Credits(credits)
		},
	}
}
