package properties

import "time"

type ApplicationConfigProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
}

type BrokerConfigProperties struct {
	Network              string `yaml:"network"`
	Address              string `yaml:"address"`
	Port                 string `yaml:"port"`
	MaxConcurrentStreams uint32 `yaml:"max-concurrent-streams"`
	MaxRedeliveries      int    `yaml:"max-redeliveries"`
}

type RPCConfigProperties struct {
	Timeout uint64 `yaml:"timeout"`
}

type ClockConfigProperties struct {
	MinTick uint64 `yaml:"min-tick"`
	MaxTick uint64 `yaml:"max-tick"`
}

type WriteAheadLogProperties struct {
	NoSync bool `yaml:"no-sync"`
}

type AgencyConfigProperties struct {
	Queue          string                  `yaml:"queue"`
	InitialFunds   int64                   `yaml:"initial-funds"`
	MinGrant       int64                   `yaml:"min-grant"`
	MaxGrant       int64                   `yaml:"max-grant"`
	GrantMonths    int                     `yaml:"grant-months"`
	Workers        int                     `yaml:"workers"`
	ResumeInterval uint64                  `yaml:"resume-interval"`
	StorageDir     string                  `yaml:"storage-dir"`
	Wal            WriteAheadLogProperties `yaml:"wal"`
}

type UniversityConfigProperties struct {
	Queue      string                  `yaml:"queue"`
	Workers    int                     `yaml:"workers"`
	StorageDir string                  `yaml:"storage-dir"`
	Wal        WriteAheadLogProperties `yaml:"wal"`
}

type MetricsConfigProperties struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type Config struct {
	Application ApplicationConfigProperties `yaml:"app"`
	Broker      BrokerConfigProperties      `yaml:"broker"`
	RPC         RPCConfigProperties         `yaml:"rpc"`
	Clock       ClockConfigProperties       `yaml:"clock"`
	Agency      AgencyConfigProperties      `yaml:"agency"`
	University  UniversityConfigProperties  `yaml:"university"`
	Metrics     MetricsConfigProperties     `yaml:"metrics"`
}

func (c *BrokerConfigProperties) Addr() string {
	return c.Address + ":" + c.Port
}

func (c *RPCConfigProperties) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c *AgencyConfigProperties) ResumeIntervalDuration() time.Duration {
	return time.Duration(c.ResumeInterval) * time.Millisecond
}

func (c *ClockConfigProperties) MinTickDuration() time.Duration {
	return time.Duration(c.MinTick) * time.Millisecond
}

func (c *ClockConfigProperties) MaxTickDuration() time.Duration {
	return time.Duration(c.MaxTick) * time.Millisecond
}
