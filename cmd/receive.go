package cmd

import (
	"fmt"
	"log"

	"blockdrop/internal/app"
	"blockdrop/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ReceiveFlags struct {
	DstPath string
	Yes     bool
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Receive a file from a peer",
	Long: `Receive a file from a peer via WebRTC. This will:

1. Ask for the session code printed by the sender
2. Answer the sender's SDP offer
3. Show the offered file and ask whether to accept it
4. Request the file block by block and save it into --dst

The file keeps the sender's name. An existing file is never overwritten;
a numbered name is picked instead.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		receiveFlags = receiveFlagsFrom(viper.GetViper())
		return validateReceiveFlags(&receiveFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Printf("Starting receiver, will save into: %s", receiveFlags.DstPath)
		if err := runReceiverApp(&receiveFlags); err != nil {
			return fmt.Errorf("receiver failed: %w", err)
		}
		return nil
	},
}

// validateReceiveFlags validates the receive command flags
func validateReceiveFlags(flags *ReceiveFlags) error {
	if flags.DstPath == "" {
		return fmt.Errorf("destination path is required")
	}
	_, err := utils.ResolveDestinationPath(flags.DstPath)
	return err
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveFlags.DstPath, "dst", "d", ".", "Directory to save the received file into")
	receiveCmd.Flags().BoolVarP(&receiveFlags.Yes, "yes", "y", false, "Accept the offered file without asking")

	bindFlag(receiveCmd, "receive.dst", "dst")
	bindFlag(receiveCmd, "receive.yes", "yes")
}

func receiveFlagsFrom(v *viper.Viper) ReceiveFlags {
	return ReceiveFlags{
		DstPath: v.GetString("receive.dst"),
		Yes:     v.GetBool("receive.yes"),
	}
}

// runReceiverApp creates and runs the receiver application
func runReceiverApp(flags *ReceiveFlags) error {
	ctx := createContext()
	peerService, signalingService, consoleUI, err := createServices(ctx, "Receiving")
	if err != nil {
		return err
	}

	opts := &app.ReceiverOptions{
		DestPath:   flags.DstPath,
		AutoAccept: flags.Yes,
	}

	receiverApp := app.NewReceiverApp(cfg, peerService, signalingService, consoleUI)
	return receiverApp.Run(ctx, opts)
}
