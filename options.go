package webdrop

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/webdrop/file"
	"github.com/opd-ai/webdrop/interfaces"
	"github.com/opd-ai/webdrop/limits"
)

var validate = validator.New()

// DefaultFileRequestTimeout is how long a RequestFile waits for its answer.
const DefaultFileRequestTimeout = 2 * time.Minute

// ServerList is a list of ICE server URLs. In the environment it is written
// as a comma separated string.
type ServerList []string

// UnmarshalEnvironmentValue implements env.Unmarshaler.
func (l *ServerList) UnmarshalEnvironmentValue(data string) error {
	var out ServerList
	for _, s := range strings.Split(data, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// Options contains the configuration of a Coordinator.
type Options struct {
	// ChunkSize is the payload size of each data channel frame.
	ChunkSize int `yaml:"chunk_size" env:"WEBDROP_CHUNK_SIZE" validate:"min=1"`
	// RetireGrace is how long finished transfers stay visible.
	RetireGrace time.Duration `yaml:"retire_grace" env:"WEBDROP_RETIRE_GRACE" validate:"gt=0"`

	ICECandidateBufferLimit int `yaml:"ice_candidate_buffer_limit" env:"WEBDROP_ICE_CANDIDATE_BUFFER_LIMIT" validate:"min=1"`
	ICECandidateMaxAttempts int `yaml:"ice_candidate_max_attempts" env:"WEBDROP_ICE_CANDIDATE_MAX_ATTEMPTS" validate:"min=1"`
	MaxPendingTransfers     int `yaml:"max_pending_transfers" env:"WEBDROP_MAX_PENDING_TRANSFERS" validate:"min=1"`

	ICEServers       ServerList `yaml:"ice_servers" env:"WEBDROP_ICE_SERVERS" validate:"dive,required"`
	UseSimulation    bool       `yaml:"use_simulation" env:"WEBDROP_USE_SIMULATION"`
	DataChannelLabel string     `yaml:"data_channel_label" env:"WEBDROP_DATA_CHANNEL_LABEL" validate:"required"`

	// AutoAcceptRequested accepts offers answering an earlier RequestFile.
	AutoAcceptRequested bool `yaml:"auto_accept_requested" env:"WEBDROP_AUTO_ACCEPT_REQUESTED"`
	// ShareSentFiles registers every sent file so peers can request it again.
	ShareSentFiles bool `yaml:"share_sent_files" env:"WEBDROP_SHARE_SENT_FILES"`
	// FileRequestTimeout is how long an unanswered RequestFile stays
	// pending. Later offers of the same file are not accepted automatically.
	FileRequestTimeout time.Duration `yaml:"file_request_timeout" env:"WEBDROP_FILE_REQUEST_TIMEOUT" validate:"gt=0"`

	LogLevel     string `yaml:"log_level" env:"WEBDROP_LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	SignalingURL string `yaml:"signaling_url" env:"WEBDROP_SIGNALING_URL" validate:"omitempty,url"`
}

// NewOptions creates a new default options.
func NewOptions() *Options {
	config := interfaces.DefaultConnectionConfig()
	return &Options{
		ChunkSize:               limits.DefaultChunkSize,
		RetireGrace:             file.DefaultRetireGrace,
		ICECandidateBufferLimit: file.DefaultICECandidateBufferLimit,
		ICECandidateMaxAttempts: file.DefaultICECandidateMaxAttempts,
		MaxPendingTransfers:     file.DefaultMaxPendingTransfers,
		ICEServers:              ServerList(config.ICEServers),
		DataChannelLabel:        config.DataChannelLabel,
		AutoAcceptRequested:     true,
		ShareSentFiles:          true,
		FileRequestTimeout:      DefaultFileRequestTimeout,
		LogLevel:                "info",
	}
}

// LoadOptions builds options from defaults, the YAML file at path (skipped
// when path is empty) and WEBDROP_* environment variables, in that order,
// and validates the result.
func LoadOptions(path string) (*Options, error) {
	opts := NewOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read options: %w", err)
		}
		if err := yaml.Unmarshal(data, opts); err != nil {
			return nil, fmt.Errorf("parse options %s: %w", path, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(opts); err != nil {
		return nil, fmt.Errorf("environment options: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "LoadOptions",
		"path":           path,
		"chunk_size":     opts.ChunkSize,
		"use_simulation": opts.UseSimulation,
	}).Info("Loaded options")
	return opts, nil
}

// Validate checks every field.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return o.ConnectionConfig().Validate()
}

// ConfigureLogging applies LogLevel to the standard logrus logger.
func (o *Options) ConfigureLogging() error {
	if o.LogLevel == "" {
		return nil
	}
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

// ManagerConfig returns the transfer manager settings.
func (o *Options) ManagerConfig() file.ManagerConfig {
	return file.ManagerConfig{
		ChunkSize:               o.ChunkSize,
		RetireGrace:             o.RetireGrace,
		ICECandidateBufferLimit: o.ICECandidateBufferLimit,
		ICECandidateMaxAttempts: o.ICECandidateMaxAttempts,
		MaxPendingTransfers:     o.MaxPendingTransfers,
	}
}

// ConnectionConfig returns the direct connection settings.
func (o *Options) ConnectionConfig() *interfaces.ConnectionConfig {
	config := interfaces.DefaultConnectionConfig()
	config.UseSimulation = o.UseSimulation
	config.ICEServers = append([]string(nil), o.ICEServers...)
	config.DataChannelLabel = o.DataChannelLabel
	return config
}
