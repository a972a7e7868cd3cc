package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sbl8/harmonics"
	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/plugin"
	"github.com/sbl8/harmonics/policy"
	"github.com/sbl8/harmonics/runtime"
	"github.com/sbl8/harmonics/tensor"
)

func newRunCmd() *cobra.Command {
	var (
		secure     bool
		bits       uint8
		pluginPath string
		backend    string
	)
	cmd := &cobra.Command{
		Use:   "run <graph>",
		Short: "Execute a graph once with zero producers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			reg := harmonics.NewRegistry()
			if pluginPath != "" {
				if _, err := plugin.NewTable().Scan(pluginPath, reg); err != nil {
					return err
				}
			}

			var pol policy.Policy = policy.Auto{}
			if bits != 0 {
				pol = policy.MaxBits{Bits: bits}
			}

			devices := device.NewRegistry()
			rt, err := runtime.New(g, pol, reg, devices, runtime.Deployment{
				Backend: device.Backend(backend),
				Secure:  secure,
				HW:      policy.DefaultHardwareCaps(),
			})
			if err != nil {
				return err
			}

			// Zero producers: every declared producer yields empty tensors,
			// so the pass exercises the plan without external data.
			for _, p := range g.Producers {
				if err := rt.BindProducer(p.Name, runtime.NewConstantProducer(tensor.Tensor{})); err != nil {
					return err
				}
			}

			if _, err := rt.Forward(cmd.Context()); err != nil {
				return err
			}
			if secure {
				fmt.Fprintln(cmd.OutOrStdout(), rt.Proof())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&secure, "secure", false, "enable chain-of-custody hashing and print the proof")
	cmd.Flags().Uint8Var(&bits, "bits", 0, "force a fixed bit-width for every layer")
	cmd.Flags().StringVar(&pluginPath, "plugin-path", "", "directory to scan for kernel plugins")
	cmd.Flags().StringVar(&backend, "backend", "cpu", "requested backend (cpu|gpu|fpga|wasm|quantum)")
	return cmd
}
