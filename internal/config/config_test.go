package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "scheduler_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Control: BindingConfig{
				Exchange: ExchangeConfig{Name: "scheduler.control"},
				Queue:    QueueConfig{Name: "scheduler.control.q"},
			},
		},
		Scheduler: SchedulerConfig{
			ScanInterval: 15 * time.Second,
			JobLogDir:    "var/joblogs",
		},
		Worker: WorkerConfig{
			PoolSize:        8,
			QueueDepth:      32,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "scheduler_db", cfg.Database.Database)
				assert.Equal(t, "scheduler.control", cfg.RabbitMQ.Control.Exchange.Name)
				assert.Equal(t, "scheduler.events", cfg.RabbitMQ.Events.Exchange.Name)
				assert.Equal(t, "scheduler-service", cfg.App.Name)
				assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Scheduler.Timezone)
				assert.Equal(t, 15*time.Second, cfg.Scheduler.ScanInterval)
				assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.LogBatchWindow)
				assert.Equal(t, 8, cfg.Worker.PoolSize)
				assert.Equal(t, 32, cfg.Worker.QueueDepth)
			}
		})
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(cfg *Config) { cfg.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(cfg *Config) { cfg.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(cfg *Config) { cfg.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(cfg *Config) { cfg.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty control exchange name",
			mutate:    func(cfg *Config) { cfg.RabbitMQ.Control.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq control exchange name is required",
		},
		{
			name:      "empty control queue name",
			mutate:    func(cfg *Config) { cfg.RabbitMQ.Control.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq control queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateSchedulerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:    "server port ignored for scheduler",
			mutate:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr: false,
		},
		{
			name:      "zero scan interval",
			mutate:    func(cfg *Config) { cfg.Scheduler.ScanInterval = 0 },
			wantErr:   true,
			errString: "scan_interval must be greater than 0",
		},
		{
			name:      "empty job log dir",
			mutate:    func(cfg *Config) { cfg.Scheduler.JobLogDir = "" },
			wantErr:   true,
			errString: "job_log_dir is required",
		},
		{
			name:      "zero pool size",
			mutate:    func(cfg *Config) { cfg.Worker.PoolSize = 0 },
			wantErr:   true,
			errString: "pool_size must be greater than 0",
		},
		{
			name:      "negative queue depth",
			mutate:    func(cfg *Config) { cfg.Worker.QueueDepth = -1 },
			wantErr:   true,
			errString: "queue_depth must not be negative",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(cfg *Config) { cfg.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateSchedulerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateSchedulerConfig())
	})
}
