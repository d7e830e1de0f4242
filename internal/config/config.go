package config

import (
	"errors"
	"fmt"
	"time"

	"blockdrop/internal/transfer"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

var (
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidChunkSize           = errors.New("chunk size must be greater than 0")
	ErrInvalidChunksPerAck        = errors.New("chunks per ack must be greater than 0")
	ErrInvalidTimeout             = errors.New("timeouts must be greater than 0")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
)

// Config holds all application configuration
type Config struct {
	WebRTC   WebRTCConfig   `json:"webrtc"`
	Firebase FirebaseConfig `json:"firebase"`
	Transfer TransferConfig `json:"transfer"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers                 []webrtc.ICEServer `json:"ice_servers"`
	BufferedAmountLowThreshold uint64             `json:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64             `json:"max_buffered_amount"`
	ReadyTimeout               time.Duration      `json:"ready_timeout"`
	FlowControlTimeout         time.Duration      `json:"flow_control_timeout"`

	// IncludeLoopback gathers 127.0.0.1 candidates, for two peers on one host
	IncludeLoopback bool `json:"include_loopback"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `json:"project_id"`
	DatabaseURL     string `json:"database_url"`
	CredentialsPath string `json:"credentials_path"`
}

// TransferConfig holds the block protocol settings. Both peers must agree on them.
type TransferConfig struct {
	ChunkSize     int           `json:"chunk_size"`
	ChunksPerAck  int           `json:"chunks_per_ack"`
	AcceptTimeout time.Duration `json:"accept_timeout"`
	CloseTimeout  time.Duration `json:"close_timeout"`
	Checksum      bool          `json:"checksum"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		WebRTC: WebRTCConfig{
			ICEServers: []webrtc.ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			ReadyTimeout:               30 * time.Second,
			FlowControlTimeout:         30 * time.Second,
		},
		Firebase: FirebaseConfig{
			ProjectID:       "",
			DatabaseURL:     "",
			CredentialsPath: "",
		},
		Transfer: TransferConfig{
			ChunkSize:     transfer.DefaultChunkSize,
			ChunksPerAck:  transfer.DefaultChunksPerAck,
			AcceptTimeout: 2 * time.Minute,
			CloseTimeout:  10 * time.Second,
			Checksum:      true,
		},
	}
}

// Load overlays the values set in v (config file, env, bound flags) on the defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	if v.IsSet("webrtc.ice_servers") {
		cfg.WebRTC.ICEServers = []webrtc.ICEServer{{URLs: v.GetStringSlice("webrtc.ice_servers")}}
	}
	if v.IsSet("webrtc.buffered_amount_low_threshold") {
		cfg.WebRTC.BufferedAmountLowThreshold = v.GetUint64("webrtc.buffered_amount_low_threshold")
	}
	if v.IsSet("webrtc.max_buffered_amount") {
		cfg.WebRTC.MaxBufferedAmount = v.GetUint64("webrtc.max_buffered_amount")
	}
	if v.IsSet("webrtc.ready_timeout") {
		cfg.WebRTC.ReadyTimeout = v.GetDuration("webrtc.ready_timeout")
	}
	if v.IsSet("webrtc.flow_control_timeout") {
		cfg.WebRTC.FlowControlTimeout = v.GetDuration("webrtc.flow_control_timeout")
	}
	if v.IsSet("webrtc.include_loopback") {
		cfg.WebRTC.IncludeLoopback = v.GetBool("webrtc.include_loopback")
	}

	if v.IsSet("firebase.project_id") {
		cfg.Firebase.ProjectID = v.GetString("firebase.project_id")
	}
	if v.IsSet("firebase.database_url") {
		cfg.Firebase.DatabaseURL = v.GetString("firebase.database_url")
	}
	if v.IsSet("firebase.credentials_path") {
		cfg.Firebase.CredentialsPath = v.GetString("firebase.credentials_path")
	}

	if v.IsSet("transfer.chunk_size") {
		cfg.Transfer.ChunkSize = v.GetInt("transfer.chunk_size")
	}
	if v.IsSet("transfer.chunks_per_ack") {
		cfg.Transfer.ChunksPerAck = v.GetInt("transfer.chunks_per_ack")
	}
	if v.IsSet("transfer.accept_timeout") {
		cfg.Transfer.AcceptTimeout = v.GetDuration("transfer.accept_timeout")
	}
	if v.IsSet("transfer.close_timeout") {
		cfg.Transfer.CloseTimeout = v.GetDuration("transfer.close_timeout")
	}
	if v.IsSet("transfer.checksum") {
		cfg.Transfer.Checksum = v.GetBool("transfer.checksum")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.WebRTC.BufferedAmountLowThreshold >= c.WebRTC.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.WebRTC.ReadyTimeout <= 0 || c.WebRTC.FlowControlTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if err := c.Transfer.Validate(); err != nil {
		return err
	}
	if c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	return nil
}

// Validate checks the transfer settings on their own, without signalling credentials.
func (t TransferConfig) Validate() error {
	if t.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if t.ChunksPerAck <= 0 {
		return ErrInvalidChunksPerAck
	}
	if t.AcceptTimeout <= 0 || t.CloseTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}
