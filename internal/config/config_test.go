package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"blockdrop/internal/transfer"

	"github.com/spf13/viper"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Firebase = FirebaseConfig{
		ProjectID:       "blockdrop-test",
		DatabaseURL:     "https://blockdrop-test.firebaseio.com",
		CredentialsPath: "/etc/blockdrop/credentials.json",
	}
	return cfg
}

func TestDefaultTransferSettings(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Transfer.ChunkSize != transfer.DefaultChunkSize {
		t.Fatalf("chunk size = %d, want %d", cfg.Transfer.ChunkSize, transfer.DefaultChunkSize)
	}
	if cfg.Transfer.ChunksPerAck != transfer.DefaultChunksPerAck {
		t.Fatalf("chunks per ack = %d, want %d", cfg.Transfer.ChunksPerAck, transfer.DefaultChunksPerAck)
	}
	if err := cfg.Transfer.Validate(); err != nil {
		t.Fatalf("default transfer config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"buffer thresholds", func(c *Config) { c.WebRTC.BufferedAmountLowThreshold = c.WebRTC.MaxBufferedAmount }, ErrInvalidBufferConfig},
		{"zero chunk size", func(c *Config) { c.Transfer.ChunkSize = 0 }, ErrInvalidChunkSize},
		{"zero chunks per ack", func(c *Config) { c.Transfer.ChunksPerAck = 0 }, ErrInvalidChunksPerAck},
		{"zero accept timeout", func(c *Config) { c.Transfer.AcceptTimeout = 0 }, ErrInvalidTimeout},
		{"zero flow control timeout", func(c *Config) { c.WebRTC.FlowControlTimeout = 0 }, ErrInvalidTimeout},
		{"no credentials", func(c *Config) { c.Firebase.CredentialsPath = "" }, ErrInvalidFirebaseConfig},
		{"no project", func(c *Config) { c.Firebase.ProjectID = "" }, ErrInvalidFirebaseProjectID},
		{"no database", func(c *Config) { c.Firebase.DatabaseURL = "" }, ErrInvalidFirebaseDatabaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate: got=%v want=%v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockdrop.yaml")
	content := `
firebase:
  project_id: demo
  database_url: https://demo.firebaseio.com
  credentials_path: /tmp/creds.json
webrtc:
  ice_servers:
    - stun:stun.example.org:3478
  include_loopback: true
transfer:
  chunks_per_ack: 32
  accept_timeout: 45s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Firebase.ProjectID != "demo" {
		t.Fatalf("project id got=%q want=%q", cfg.Firebase.ProjectID, "demo")
	}
	if got := cfg.WebRTC.ICEServers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.org:3478" {
		t.Fatalf("ice servers got=%v", got)
	}
	if !cfg.WebRTC.IncludeLoopback {
		t.Fatal("include_loopback was not applied")
	}
	if cfg.Transfer.ChunksPerAck != 32 {
		t.Fatalf("chunks per ack got=%d want=32", cfg.Transfer.ChunksPerAck)
	}
	if cfg.Transfer.AcceptTimeout != 45*time.Second {
		t.Fatalf("accept timeout got=%v want=45s", cfg.Transfer.AcceptTimeout)
	}
	if cfg.Transfer.ChunkSize != transfer.DefaultChunkSize {
		t.Fatalf("unset chunk size got=%d want default", cfg.Transfer.ChunkSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BLOCKDROP_FIREBASE_PROJECT_ID", "env-project")
	t.Setenv("BLOCKDROP_FIREBASE_DATABASE_URL", "https://env.firebaseio.com")
	t.Setenv("BLOCKDROP_FIREBASE_CREDENTIALS_PATH", "/tmp/env.json")
	t.Setenv("BLOCKDROP_TRANSFER_CHECKSUM", "false")

	v := viper.New()
	v.SetEnvPrefix("BLOCKDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Firebase.ProjectID != "env-project" {
		t.Fatalf("project id got=%q want=%q", cfg.Firebase.ProjectID, "env-project")
	}
	if cfg.Transfer.Checksum {
		t.Fatal("checksum still enabled after env override")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("transfer.chunk_size", 0)

	if _, err := Load(v); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("Load: got=%v want=%v", err, ErrInvalidChunkSize)
	}
}
