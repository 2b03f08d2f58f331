package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashkit/vpwcore"
	_ "github.com/flashkit/vpwcore/adapter"
)

var rootCmd = &cobra.Command{
	Use:   "vpwtool",
	Short: "SAE J1850 VPW PCM flash/tuning tool",
}

// Execute adds all child commands to the root command and runs it. It only
// needs to happen once, from main.main().
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Printf("got %v, exiting", s)
		cancel()
		<-time.After(45 * time.Second)
		log.Fatal("took too long to shut down, forcefully exiting")
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var (
	deviceName string
	comPort    string
	baudRate   int
	debug      bool
)

func init() {
	log.SetFlags(0)
	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "a", "mock", "device driver name, see 'vpwtool devices'")
	rootCmd.PersistentFlags().StringVarP(&comPort, "port", "p", "", "serial port, required by most devices")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baudrate", "b", 115200, "serial baud rate")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug mode")

	rootCmd.AddCommand(devicesCmd)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "list registered device drivers",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range vpwcore.ListDeviceNames() {
			log.Println(name)
		}
		return nil
	},
}

func newVehicle(dev vpwcore.Device) *vpwcore.Vehicle {
	return vpwcore.NewVehicle(dev, pcmKeyAlgorithm, vpwcore.NewSystemClock())
}

func openDevice(ctx context.Context) (vpwcore.Device, error) {
	dev, err := vpwcore.NewDevice(deviceName, &vpwcore.Config{
		Port:      comPort,
		PortBaud:  baudRate,
		Debug:     debug,
		OnMessage: func(msg string) { log.Println(msg) },
	})
	if err != nil {
		return nil, err
	}
	if err := dev.Initialize(ctx); err != nil {
		return nil, err
	}
	return dev, nil
}
