package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Server   ServerConf  `yaml:"server"`
	Storage  StorageConf `yaml:"storage"`
	Triggers TriggerConf `yaml:"triggers"`
	Log      LogConf     `yaml:"log"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

func (s ServerConf) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

func (s ServerConf) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

// Storage drivers.
const (
	DriverMemory  = "memory"
	DriverMongoDB = "mongodb"
)

// StorageConf selects the document store.
type StorageConf struct {
	Driver     string `yaml:"driver"`
	MongoDBURL string `yaml:"mongodb_url"`
	Database   string `yaml:"database"`
}

// TriggerConf holds trigger runner settings. Only Dir and TimeoutMs are
// applied on hot reload; pool sizes are fixed at startup.
type TriggerConf struct {
	Dir        string `yaml:"dir"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	Workers    int    `yaml:"workers"`
	QueueDepth int    `yaml:"queue_depth"`
}

func (t TriggerConf) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// LogConf holds the log level: debug, info, warn or error.
type LogConf struct {
	Level string `yaml:"level"`
}
