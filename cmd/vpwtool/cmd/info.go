package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashkit/vpwcore"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "read VIN, serial, BCC and MEC from the PCM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		dev, err := openDevice(ctx)
		if err != nil {
			return err
		}
		defer dev.Dispose()

		vcl := vpwcore.NewVehicle(dev, nil, nil)
		cancelFlag := &vpwcore.CancelFlag{}

		vin, err := vcl.QueryVin(ctx, cancelFlag)
		if err != nil {
			return fmt.Errorf("query vin: %w", err)
		}
		fmt.Println("VIN:", vin)

		serial, err := vcl.QuerySerial(ctx, cancelFlag)
		if err != nil {
			return fmt.Errorf("query serial: %w", err)
		}
		fmt.Println("Serial:", serial)

		bcc, err := vcl.QueryBCC(ctx, cancelFlag)
		if err != nil {
			return fmt.Errorf("query bcc: %w", err)
		}
		fmt.Printf("BCC: % X\n", bcc)

		mec, err := vcl.QueryMEC(ctx, cancelFlag)
		if err != nil {
			return fmt.Errorf("query mec: %w", err)
		}
		fmt.Printf("MEC: 0x%02X\n", mec)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
