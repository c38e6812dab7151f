package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/messagelog/internal/flagx"
	"github.com/dmitrijs2005/messagelog/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations use timex.Duration so
// they can be written either as "90s" or as integer nanoseconds.
type JsonConfig struct {
	DatabaseDriver string `json:"database_driver"`
	DatabaseDSN    string `json:"database_dsn"`
	LogLevel       string `json:"log_level"`

	HashAlgorithm  string `json:"hash_algorithm"`
	DigestOrdering string `json:"digest_ordering"`

	TSAURLs                          []string       `json:"tsa_urls"`
	TSAConnectTimeout                timex.Duration `json:"tsa_connect_timeout"`
	TSAReadTimeout                   timex.Duration `json:"tsa_read_timeout"`
	TimestampRecordsLimit            int            `json:"timestamp_records_limit"`
	TimestampImmediately             bool           `json:"timestamp_immediately"`
	TimestampRetryDelay              timex.Duration `json:"timestamp_retry_delay"`
	AcceptableTimestampFailurePeriod timex.Duration `json:"acceptable_timestamp_failure_period"`

	GlobalConfPath           string         `json:"global_conf_path"`
	GlobalConfReloadInterval timex.Duration `json:"global_conf_reload_interval"`

	ArchivePath                 string            `json:"archive_path"`
	ArchiveMaxFilesize          int64             `json:"archive_max_filesize"`
	ArchiveGrouping             string            `json:"archive_grouping"`
	ArchiveTransactionBatchSize int               `json:"archive_transaction_batch_size"`
	ArchiveInterval             string            `json:"archive_interval"`
	ArchiveTransferCommand      string            `json:"archive_transfer_command"`
	ArchiveEncryptionEnabled    bool              `json:"archive_encryption_enabled"`
	ArchiveKeyringPath          string            `json:"archive_keyring_path"`
	ArchiveDefaultKeyID         string            `json:"archive_default_key_id"`
	ArchiveGroupKeys            map[string]string `json:"archive_group_keys"`

	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`

	CleanInterval             string         `json:"clean_interval"`
	CleanTransactionBatchSize int            `json:"clean_transaction_batch_size"`
	KeepRecordsFor            timex.Duration `json:"keep_records_for"`

	MessageLogEncryptionEnabled bool   `json:"messagelog_encryption_enabled"`
	MessageLogKeyID             string `json:"messagelog_key_id"`
	MessageLogMasterKey         string `json:"messagelog_master_key"`

	AdminAddr      string `json:"admin_addr"`
	AdminSecretKey string `json:"admin_secret_key"`
}

// parseJson overlays values from the file named by -c / -config onto config.
// Keys missing from the file keep their current values. A missing or
// malformed file is fatal.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}
	fromJson(c, config)
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		DatabaseDriver:                   c.DatabaseDriver,
		DatabaseDSN:                      c.DatabaseDSN,
		LogLevel:                         c.LogLevel,
		HashAlgorithm:                    c.HashAlgorithm,
		DigestOrdering:                   c.DigestOrdering,
		TSAURLs:                          c.TSAURLs,
		TSAConnectTimeout:                timex.Duration{Duration: c.TSAConnectTimeout},
		TSAReadTimeout:                   timex.Duration{Duration: c.TSAReadTimeout},
		TimestampRecordsLimit:            c.TimestampRecordsLimit,
		TimestampImmediately:             c.TimestampImmediately,
		TimestampRetryDelay:              timex.Duration{Duration: c.TimestampRetryDelay},
		AcceptableTimestampFailurePeriod: timex.Duration{Duration: c.AcceptableTimestampFailurePeriod},
		GlobalConfPath:                   c.GlobalConfPath,
		GlobalConfReloadInterval:         timex.Duration{Duration: c.GlobalConfReloadInterval},
		ArchivePath:                      c.ArchivePath,
		ArchiveMaxFilesize:               c.ArchiveMaxFilesize,
		ArchiveGrouping:                  c.ArchiveGrouping,
		ArchiveTransactionBatchSize:      c.ArchiveTransactionBatchSize,
		ArchiveInterval:                  c.ArchiveInterval,
		ArchiveTransferCommand:           c.ArchiveTransferCommand,
		ArchiveEncryptionEnabled:         c.ArchiveEncryptionEnabled,
		ArchiveKeyringPath:               c.ArchiveKeyringPath,
		ArchiveDefaultKeyID:              c.ArchiveDefaultKeyID,
		ArchiveGroupKeys:                 c.ArchiveGroupKeys,
		S3Bucket:                         c.S3Bucket,
		S3Region:                         c.S3Region,
		S3BaseEndpoint:                   c.S3BaseEndpoint,
		S3RootUser:                       c.S3RootUser,
		S3RootPassword:                   c.S3RootPassword,
		CleanInterval:                    c.CleanInterval,
		CleanTransactionBatchSize:        c.CleanTransactionBatchSize,
		KeepRecordsFor:                   timex.Duration{Duration: c.KeepRecordsFor},
		MessageLogEncryptionEnabled:      c.MessageLogEncryptionEnabled,
		MessageLogKeyID:                  c.MessageLogKeyID,
		MessageLogMasterKey:              c.MessageLogMasterKey,
		AdminAddr:                        c.AdminAddr,
		AdminSecretKey:                   c.AdminSecretKey,
	}
}

func fromJson(j *JsonConfig, config *Config) {
	config.DatabaseDriver = j.DatabaseDriver
	config.DatabaseDSN = j.DatabaseDSN
	config.LogLevel = j.LogLevel
	config.HashAlgorithm = j.HashAlgorithm
	config.DigestOrdering = j.DigestOrdering
	config.TSAURLs = j.TSAURLs
	config.TSAConnectTimeout = j.TSAConnectTimeout.Duration
	config.TSAReadTimeout = j.TSAReadTimeout.Duration
	config.TimestampRecordsLimit = j.TimestampRecordsLimit
	config.TimestampImmediately = j.TimestampImmediately
	config.TimestampRetryDelay = j.TimestampRetryDelay.Duration
	config.AcceptableTimestampFailurePeriod = j.AcceptableTimestampFailurePeriod.Duration
	config.GlobalConfPath = j.GlobalConfPath
	config.GlobalConfReloadInterval = j.GlobalConfReloadInterval.Duration
	config.ArchivePath = j.ArchivePath
	config.ArchiveMaxFilesize = j.ArchiveMaxFilesize
	config.ArchiveGrouping = j.ArchiveGrouping
	config.ArchiveTransactionBatchSize = j.ArchiveTransactionBatchSize
	config.ArchiveInterval = j.ArchiveInterval
	config.ArchiveTransferCommand = j.ArchiveTransferCommand
	config.ArchiveEncryptionEnabled = j.ArchiveEncryptionEnabled
	config.ArchiveKeyringPath = j.ArchiveKeyringPath
	config.ArchiveDefaultKeyID = j.ArchiveDefaultKeyID
	config.ArchiveGroupKeys = j.ArchiveGroupKeys
	config.S3Bucket = j.S3Bucket
	config.S3Region = j.S3Region
	config.S3BaseEndpoint = j.S3BaseEndpoint
	config.S3RootUser = j.S3RootUser
	config.S3RootPassword = j.S3RootPassword
	config.CleanInterval = j.CleanInterval
	config.CleanTransactionBatchSize = j.CleanTransactionBatchSize
	config.KeepRecordsFor = j.KeepRecordsFor.Duration
	config.MessageLogEncryptionEnabled = j.MessageLogEncryptionEnabled
	config.MessageLogKeyID = j.MessageLogKeyID
	config.MessageLogMasterKey = j.MessageLogMasterKey
	config.AdminAddr = j.AdminAddr
	config.AdminSecretKey = j.AdminSecretKey
}
