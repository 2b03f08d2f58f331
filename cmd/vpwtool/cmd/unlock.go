package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashkit/vpwcore"
)

var unlockAlgorithm int

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "request security access (seed/key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		dev, err := openDevice(ctx)
		if err != nil {
			return err
		}
		defer dev.Dispose()

		vcl := newVehicle(dev)
		result, err := vcl.UnlockEcu(ctx, &vpwcore.CancelFlag{}, unlockAlgorithm, consoleSink{})
		if err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		if result.AlreadyUnlocked {
			fmt.Println("already unlocked")
			return nil
		}
		if !result.Unlocked {
			fmt.Println("denied:", result.Status)
			return nil
		}
		fmt.Println("unlocked")
		return nil
	},
}

func init() {
	unlockCmd.Flags().IntVarP(&unlockAlgorithm, "algorithm", "k", 0, "key algorithm id")
	rootCmd.AddCommand(unlockCmd)
}

// pcmKeyAlgorithm is a placeholder: real seed/key math is PCM-family
// specific and not published here. Wire in a real KeyFunc to unlock a
// physical PCM.
func pcmKeyAlgorithm(algorithmID int, seed uint16) (uint16, error) {
	return 0, fmt.Errorf("no key algorithm registered for id %d", algorithmID)
}

type consoleSink struct{ vpwcore.NopSink }

func (consoleSink) AddUserMessage(msg string) { fmt.Println(msg) }
