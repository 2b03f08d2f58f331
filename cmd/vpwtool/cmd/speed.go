package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var speedCmd = &cobra.Command{
	Use:   "speed",
	Short: "request and switch to 4x (41.6 kbit/s) VPW signaling",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		dev, err := openDevice(ctx)
		if err != nil {
			return err
		}
		defer dev.Dispose()

		if !dev.Capabilities().Supports4x {
			return fmt.Errorf("device %s does not support 4x", dev)
		}

		vcl := newVehicle(dev)
		if err := vcl.VehicleSetVpw4x(ctx, nil); err != nil {
			return fmt.Errorf("switch to 4x: %w", err)
		}
		fmt.Println("now running at 4x")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(speedCmd)
}
