package main

import "flag"

// Config is the root config for the standalone mockkafka-server binary.
// RegisterFlagsAndApplyDefaults establishes flag defaults first, so a YAML
// config file layered on top only needs to name the fields it changes.
type Config struct {
	LogLevel string `yaml:"log_level"`

	NumBrokers       int    `yaml:"num_brokers"`
	ListenHost       string `yaml:"listen_host"`
	MetricsAddr      string `yaml:"metrics_addr"`
	AutoCreateTopics bool   `yaml:"auto_create_topics"`
	AutoPartitionCnt int    `yaml:"auto_create_partitions"`
	AutoReplFactor   int    `yaml:"auto_create_replication_factor"`
}

// RegisterFlagsAndApplyDefaults registers this Config's flags on f with
// prefix, applying defaults first so a later YAML overlay only needs to
// name the fields it changes.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.LogLevel, prefix+"log.level", "info", "Minimum log level (debug, info, warn, error).")
	f.IntVar(&c.NumBrokers, prefix+"brokers", 3, "Number of brokers to simulate.")
	f.StringVar(&c.ListenHost, prefix+"listen-host", "127.0.0.1", "Host brokers bind and advertise.")
	f.StringVar(&c.MetricsAddr, prefix+"metrics-addr", "127.0.0.1:9308", "Address to serve Prometheus metrics on.")
	f.BoolVar(&c.AutoCreateTopics, prefix+"auto-create-topics", true, "Auto-create topics referenced by an unknown name in a Metadata request.")
	f.IntVar(&c.AutoPartitionCnt, prefix+"auto-create.partitions", 1, "Partition count used for auto-created topics.")
	f.IntVar(&c.AutoReplFactor, prefix+"auto-create.replication-factor", 1, "Replication factor used for auto-created topics.")
}
