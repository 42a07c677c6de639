package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/taskvault/internal/flagx"
	"github.com/dmitrijs2005/taskvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "1m" and integer nanoseconds are accepted. Absent
// fields keep the value already present in Config.
type JsonConfig struct {
	EndpointAddrHTTP             string               `json:"endpoint_addr_http"`
	DatabaseDSN                  string               `json:"database_dsn"`
	RedisAddr                    string               `json:"redis_addr"`
	SecretKey                    string               `json:"secret_key"`
	FileEncryptionKey            string               `json:"file_encryption_key"`
	SessionTokenValidityDuration timex.Duration       `json:"session_token_validity_duration"`
	DefaultTaskTimeout           timex.Duration       `json:"default_task_timeout"`
	AttachmentTokenMaxAge        timex.Duration       `json:"attachment_token_max_age"`
	S3Profiles                   map[string]S3Profile `json:"s3_profiles"`
	DefaultS3Profile             string               `json:"default_s3_profile"`
	TaskRequestS3Profile         string               `json:"task_request_s3_profile"`
	S3Bucket                     string               `json:"s3_bucket"`
	AllowedBuckets               []string             `json:"allowed_buckets"`
	AttachmentBucket             string               `json:"attachment_bucket"`
	AttachmentS3Profile          string               `json:"attachment_s3_profile"`
	UploadRootDir                string               `json:"upload_root_dir"`
	InternalURLMarker            *string              `json:"internal_url_marker"`
	TaskReservedColumns          []string             `json:"task_reserved_columns"`
	ChecksumExcludedFields       []string             `json:"checksum_excluded_fields"`
	EncryptionConfigPath         []string             `json:"encryption_config_path"`
	SecretIDPrefix               string               `json:"secret_id_prefix"`
	PrivateInstance              *bool                `json:"private_instance"`
	LogFile                      string               `json:"log_file"`
	RunMigrations                *bool                `json:"run_migrations"`
}

// parseJson overlays values from the file named by -c/-config onto config.
// Nothing happens when no file is given; an unreadable or invalid file panics.
func parseJson(config *Config, args []string) {

	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.FileEncryptionKey, c.FileEncryptionKey)
	setString(&config.DefaultS3Profile, c.DefaultS3Profile)
	setString(&config.TaskRequestS3Profile, c.TaskRequestS3Profile)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.AttachmentBucket, c.AttachmentBucket)
	setString(&config.AttachmentS3Profile, c.AttachmentS3Profile)
	setString(&config.UploadRootDir, c.UploadRootDir)
	setString(&config.SecretIDPrefix, c.SecretIDPrefix)
	setString(&config.LogFile, c.LogFile)

	if c.SessionTokenValidityDuration.Duration > 0 {
		config.SessionTokenValidityDuration = c.SessionTokenValidityDuration.Duration
	}
	if c.DefaultTaskTimeout.Duration > 0 {
		config.DefaultTaskTimeout = c.DefaultTaskTimeout.Duration
	}
	if c.AttachmentTokenMaxAge.Duration > 0 {
		config.AttachmentTokenMaxAge = c.AttachmentTokenMaxAge.Duration
	}

	if len(c.S3Profiles) > 0 {
		config.S3Profiles = c.S3Profiles
	}
	if c.AllowedBuckets != nil {
		config.AllowedBuckets = c.AllowedBuckets
	}
	if c.TaskReservedColumns != nil {
		config.TaskReservedColumns = c.TaskReservedColumns
	}
	if c.ChecksumExcludedFields != nil {
		config.ChecksumExcludedFields = c.ChecksumExcludedFields
	}
	if c.EncryptionConfigPath != nil {
		config.EncryptionConfigPath = c.EncryptionConfigPath
	}

	if c.InternalURLMarker != nil {
		config.InternalURLMarker = *c.InternalURLMarker
	}
	if c.PrivateInstance != nil {
		config.PrivateInstance = *c.PrivateInstance
	}
	if c.RunMigrations != nil {
		config.RunMigrations = *c.RunMigrations
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
