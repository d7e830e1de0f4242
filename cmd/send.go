package cmd

import (
	"fmt"
	"log"
	"os"

	"blockdrop/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type SendFlags struct {
	FilePath string
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Offer a file to a peer",
	Long: `Offer a file to a peer via WebRTC. This will:

1. Create a WebRTC peer connection and a data channel
2. Publish the SDP offer and print a session code
3. Wait for the receiver to answer and accept the file
4. Send the file block by block as the receiver asks for it

Use --file to specify the path to the file you want to send.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		sendFlags = sendFlagsFrom(viper.GetViper())
		return validateSendFlags(&sendFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Printf("Starting sender for file: %s", sendFlags.FilePath)
		if err := runSenderApp(&sendFlags); err != nil {
			return fmt.Errorf("sender failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendFlags.FilePath, "file", "f", "", "Path to file to send (or BLOCKDROP_SEND_FILE)")

	bindFlag(sendCmd, "send.file", "file")
}

// sendFlagsFrom reads the send flags through v, so the environment and the
// config file can stand in for them
func sendFlagsFrom(v *viper.Viper) SendFlags {
	return SendFlags{FilePath: v.GetString("send.file")}
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}

	info, err := os.Stat(flags.FilePath)
	if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("'%s' is a directory, only single files can be sent", flags.FilePath)
	}
	return nil
}

// runSenderApp creates and runs the sender application
func runSenderApp(flags *SendFlags) error {
	ctx := createContext()
	peerService, signalingService, consoleUI, err := createServices(ctx, "Sending")
	if err != nil {
		return err
	}

	opts := &app.SenderOptions{
		FilePath: flags.FilePath,
	}

	senderApp := app.NewSenderApp(cfg, peerService, signalingService, consoleUI)
	return senderApp.Run(ctx, opts)
}
