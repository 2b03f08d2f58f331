package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashkit/vpwcore"
	"github.com/flashkit/vpwcore/pkg/barui"
	"github.com/flashkit/vpwcore/pkg/pcminfo"
)

var (
	readHardware   string
	readLoaderPath string
	readKernelPath string
	readOutPath    string
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "bulk-read the PCM's flash contents via an uploaded kernel",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, ok := pcminfo.Lookup(pcminfo.HardwareType(readHardware))
		if !ok {
			return fmt.Errorf("unknown hardware type %q, see 'vpwtool read --help'", readHardware)
		}

		kernelImage, err := os.ReadFile(readKernelPath)
		if err != nil {
			return fmt.Errorf("read kernel image: %w", err)
		}
		var loaderImage []byte
		if info.LoaderRequired {
			if readLoaderPath == "" {
				return fmt.Errorf("hardware type %s requires --loader", readHardware)
			}
			loaderImage, err = os.ReadFile(readLoaderPath)
			if err != nil {
				return fmt.Errorf("read loader image: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		dev, err := openDevice(ctx)
		if err != nil {
			return err
		}
		defer dev.Dispose()

		sink := barui.NewSink(info.ImageSize, "reading PCM")
		defer sink.Close()

		vcl := newVehicle(dev)
		kernel := vpwcore.NewKernel(dev, vcl, sink)

		image, err := kernel.ReadContents(ctx, &vpwcore.CancelFlag{}, info, loaderImage, kernelImage)
		if err != nil {
			return fmt.Errorf("read contents: %w", err)
		}

		if err := os.WriteFile(readOutPath, image, 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		fmt.Println("wrote", len(image), "bytes to", readOutPath)
		return nil
	},
}

func init() {
	readCmd.Flags().StringVarP(&readHardware, "hardware", "t", "P01_P59", "PCM hardware type (P01_P59, P10, P12)")
	readCmd.Flags().StringVar(&readLoaderPath, "loader", "", "loader image path, required for P10/P12")
	readCmd.Flags().StringVarP(&readKernelPath, "kernel", "k", "", "kernel image path")
	readCmd.Flags().StringVarP(&readOutPath, "out", "o", "pcm.bin", "output file path")
	readCmd.MarkFlagRequired("kernel")
	rootCmd.AddCommand(readCmd)
}
