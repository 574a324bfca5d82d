package config

func Defaults() *Config {
	return &Config{
		WaitSec: 30,
		Enabled: true,
		General: GeneralConfig{
			LogLevel: "info",
		},
		Pairing: PairingConfig{
			Enabled:         true,
			LogDir:          "~/.whisplayim/logs",
			ScanIntervalSec: 5,
		},
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        "~/.whisplayim/journal.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9091,
		},
		Pipeline: PipelineConfig{
			Mode:       "echo",
			TimeoutSec: 30,
		},
	}
}
