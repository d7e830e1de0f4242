package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"blockdrop/internal/config"
	"blockdrop/internal/signalling"
	"blockdrop/internal/transport"
	"blockdrop/internal/ui"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blockdrop",
	Short: "blockdrop - peer-to-peer file transfer over WebRTC data channels",
	Long: `blockdrop sends a file directly between two machines over a WebRTC data channel.

The sender offers the file, the receiver accepts or declines it, and the data
then flows in blocks of chunks that the receiver requests one block at a time.
Only the session descriptions pass through Firebase; file content never does.

Usage:
  Send a file:    blockdrop send --file /path/to/file
  Receive a file: blockdrop receive --dst /path/to/directory

The sender prints a session code that the receiver types in.`,
	SilenceUsage: true,
}

func init() {
	// assigned here rather than in the rootCmd literal: initConfig reads
	// rootCmd, which would otherwise be an initialization cycle
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initConfig()

		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.blockdrop.yaml)")
	rootCmd.PersistentFlags().Bool("no-checksum", false, "skip SHA-256 verification of the received file")
	rootCmd.PersistentFlags().Bool("loopback", false, "offer loopback ICE candidates (both peers on one host)")

	// BLOCKDROP_TRANSFER_CHUNK_SIZE overrides transfer.chunk_size
	viper.SetEnvPrefix("BLOCKDROP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// bindFlag exposes a command flag as a viper key
func bindFlag(cmd *cobra.Command, key, name string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		log.Fatalf("Failed to bind --%s to %s: %v", name, key, err)
	}
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("Warning: Could not find home directory: %v", err)
		} else {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".blockdrop")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Printf("Using config file: %s", viper.ConfigFileUsed())
	}

	flags := rootCmd.PersistentFlags()
	if noChecksum, _ := flags.GetBool("no-checksum"); noChecksum {
		viper.Set("transfer.checksum", false)
	}
	if loopback, _ := flags.GetBool("loopback"); loopback {
		viper.Set("webrtc.include_loopback", true)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}

// createServices creates and wires up all the application services
func createServices(ctx context.Context, operation string) (*transport.PeerService, *signalling.SignalingService, *ui.ConsoleUI, error) {
	signalingService, err := signalling.NewDefaultSignalingService(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	peerService := transport.NewPeerService(cfg)
	consoleUI := ui.NewConsoleUI(operation, cfg.Transfer.ChunkSize)

	return peerService, signalingService, consoleUI, nil
}
