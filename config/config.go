// Package config loads the relayer configuration with viper. Values come
// from a toml or yaml file and can be overridden by RELAYER_ prefixed
// environment variables, e.g. RELAYER_SINK_ENDPOINT.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/viper"

	"github.com/celer-network/go-bridge-relayer/beacon/state"
	"github.com/celer-network/go-bridge-relayer/mortality"
	"github.com/celer-network/go-bridge-relayer/receipts"
	"github.com/celer-network/go-bridge-relayer/writer"
)

const envPrefix = "RELAYER"

type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Beacon   BeaconConfig   `mapstructure:"beacon"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Receipts ReceiptsConfig `mapstructure:"receipts"`
	DB       DBConfig       `mapstructure:"db"`
}

// SourceConfig is the execution chain side.
type SourceConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Gateway      string        `mapstructure:"gateway"`
	ChannelID    string        `mapstructure:"channel_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// FromBlock is where a relay without a stored cursor starts.
	FromBlock uint64 `mapstructure:"from_block"`
	// Batch submits the messages of a block through Utility.batch_all.
	Batch bool `mapstructure:"batch"`
}

type BeaconConfig struct {
	Preset       string `mapstructure:"preset"`
	CapellaEpoch uint64 `mapstructure:"capella_epoch"`
	DenebEpoch   uint64 `mapstructure:"deneb_epoch"`
	ElectraEpoch uint64 `mapstructure:"electra_epoch"`
}

// SinkConfig is the destination chain side.
type SinkConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	KeyringURI           string `mapstructure:"keyring_uri"`
	SS58Prefix           uint16 `mapstructure:"ss58_prefix"`
	MaxWatchedExtrinsics int64  `mapstructure:"max_watched_extrinsics"`
	MaxBatchCallSize     int    `mapstructure:"max_batch_call_size"`
	MortalityPeriod      uint64 `mapstructure:"mortality_period"`
	NoncePolicy          string `mapstructure:"nonce_policy"`
}

type ReceiptsConfig struct {
	WindowSize int `mapstructure:"window_size"`
}

type DBConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.poll_interval", 12*time.Second)
	v.SetDefault("source.batch", true)
	v.SetDefault("beacon.preset", state.Mainnet.Name)
	v.SetDefault("beacon.deneb_epoch", uint64(state.FarFutureEpoch))
	v.SetDefault("beacon.electra_epoch", uint64(state.FarFutureEpoch))
	v.SetDefault("sink.ss58_prefix", 42)
	v.SetDefault("sink.max_watched_extrinsics", writer.DefaultMaxWatchedExtrinsics)
	v.SetDefault("sink.max_batch_call_size", writer.DefaultMaxBatchCallSize)
	v.SetDefault("sink.mortality_period", writer.DefaultMortalityPeriod)
	v.SetDefault("sink.nonce_policy", writer.Optimistic.String())
	v.SetDefault("receipts.window_size", receipts.DefaultWindowSize)
	v.SetDefault("db.dir", "relayerdb")
}

// Load reads path, applies defaults and environment overrides, and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Source.Endpoint == "" {
		return errors.New("source.endpoint is required")
	}
	if !common.IsHexAddress(c.Source.Gateway) {
		return errors.Newf("source.gateway %q is not an address", c.Source.Gateway)
	}
	if _, err := c.ChannelID(); err != nil {
		return err
	}
	if c.Source.PollInterval <= 0 {
		return errors.Newf("source.poll_interval must be positive, got %s", c.Source.PollInterval)
	}
	if _, err := c.ForkSchedule(); err != nil {
		return err
	}
	if c.Sink.Endpoint == "" {
		return errors.New("sink.endpoint is required")
	}
	if c.Sink.KeyringURI == "" {
		return errors.New("sink.keyring_uri is required")
	}
	if _, err := c.SS58Network(); err != nil {
		return err
	}
	if _, err := c.WriterConfig(); err != nil {
		return err
	}
	if c.Receipts.WindowSize <= 0 {
		return errors.Newf("receipts.window_size must be positive, got %d", c.Receipts.WindowSize)
	}
	if !c.DB.InMemory && c.DB.Dir == "" {
		return errors.New("db.dir is required unless db.in_memory is set")
	}
	return nil
}

func (c *Config) GatewayAddress() common.Address {
	return common.HexToAddress(c.Source.Gateway)
}

func (c *Config) ChannelID() (common.Hash, error) {
	b, err := hexutil.Decode(c.Source.ChannelID)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.Newf("source.channel_id %q is not a 32 byte hex string", c.Source.ChannelID)
	}
	return common.BytesToHash(b), nil
}

// SS58Network is the address format the signing keypair is derived for.
// Only the one byte simple prefixes are supported.
func (c *Config) SS58Network() (uint8, error) {
	if c.Sink.SS58Prefix > 63 {
		return 0, errors.Newf("sink.ss58_prefix must be below 64, got %d", c.Sink.SS58Prefix)
	}
	return uint8(c.Sink.SS58Prefix), nil
}

func (c *Config) ForkSchedule() (state.ForkSchedule, error) {
	preset, err := state.PresetByName(c.Beacon.Preset)
	if err != nil {
		return state.ForkSchedule{}, err
	}
	schedule := state.ForkSchedule{
		Preset:       preset,
		CapellaEpoch: c.Beacon.CapellaEpoch,
		DenebEpoch:   c.Beacon.DenebEpoch,
		ElectraEpoch: c.Beacon.ElectraEpoch,
	}
	return schedule, schedule.Validate()
}

func (c *Config) WriterConfig() (writer.Config, error) {
	policy, err := writer.ParseNoncePolicy(c.Sink.NoncePolicy)
	if err != nil {
		return writer.Config{}, err
	}
	if err := mortality.ValidatePeriod(c.Sink.MortalityPeriod); err != nil {
		return writer.Config{}, err
	}
	cfg := writer.Config{
		MaxWatchedExtrinsics: c.Sink.MaxWatchedExtrinsics,
		MaxBatchCallSize:     c.Sink.MaxBatchCallSize,
		MortalityPeriod:      c.Sink.MortalityPeriod,
		NoncePolicy:          policy,
	}
	return cfg, cfg.Validate()
}
