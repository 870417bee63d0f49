package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"gopkg.in/ini.v1"
)

/*
*
[logs]
log_error        = /var/log/mysql/error.log
log_infos        = /var/log/mysql/mysql.log
log_foreign_key  = /var/log/mysql/foreign_key.log
log_level        = info

[innodb]
innodb_data_dir                          = data
innodb_page_size                         = 16384
innodb_buffer_pool_size                  = 134217728
innodb_fatal_semaphore_wait_threshold    = 600
innodb_compression_failure_threshold_pct = 5
innodb_compression_pad_pct_max           = 50
innodb_compression_algorithm             = zlib
innodb_stats_persistent                  = true
lower_case_table_names                   = 0
lock_wait_timeout                        = 86400

[dict]
table_definition_cache = 400
lru_scan_pct           = 100
max_rename_retries     = 64
eviction_interval      = 1s
*/
type Cfg struct {
	Raw *ini.File

	// logs
	LogError      string `default:"/var/log/mysql/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos      string `default:"/var/log/mysql/mysql.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogForeignKey string `default:"" yaml:"log_foreign_key" json:"log_foreign_key,omitempty"`
	LogLevel      string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// innodb
	InnodbDataDir                     string `default:"data" yaml:"innodb_data_dir" json:"innodb_data_dir,omitempty"`
	InnodbPageSize                    int    `default:"16384" yaml:"innodb_page_size" json:"innodb_page_size,omitempty"`
	InnodbBufferPoolSize              int64  `default:"134217728" yaml:"innodb_buffer_pool_size" json:"innodb_buffer_pool_size,omitempty"`
	InnodbFatalSemaphoreWaitThreshold int    `default:"600" yaml:"innodb_fatal_semaphore_wait_threshold" json:"innodb_fatal_semaphore_wait_threshold,omitempty"`
	InnodbCompressionFailureThreshold int    `default:"5" yaml:"innodb_compression_failure_threshold_pct" json:"innodb_compression_failure_threshold_pct,omitempty"`
	InnodbCompressionPadPctMax        int    `default:"50" yaml:"innodb_compression_pad_pct_max" json:"innodb_compression_pad_pct_max,omitempty"`
	InnodbCompressionAlgorithm        string `default:"zlib" yaml:"innodb_compression_algorithm" json:"innodb_compression_algorithm,omitempty"`
	InnodbStatsPersistent             bool   `default:"true" yaml:"innodb_stats_persistent" json:"innodb_stats_persistent,omitempty"`
	LowerCaseTableNames               int    `default:"0" yaml:"lower_case_table_names" json:"lower_case_table_names,omitempty"`
	LockWaitTimeout                   int    `default:"86400" yaml:"lock_wait_timeout" json:"lock_wait_timeout,omitempty"`

	// dict
	TableDefinitionCache int           `default:"400" yaml:"table_definition_cache" json:"table_definition_cache,omitempty"`
	LRUScanPct           int           `default:"100" yaml:"lru_scan_pct" json:"lru_scan_pct,omitempty"`
	MaxRenameRetries     int           `default:"64" yaml:"max_rename_retries" json:"max_rename_retries,omitempty"`
	EvictionInterval     time.Duration `default:"1s" yaml:"eviction_interval" json:"eviction_interval,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:      ini.Empty(),
		LogError: "/var/log/mysql/error.log",
		LogInfos: "/var/log/mysql/mysql.log",
		LogLevel: "info",
		// InnoDB 默认配置
		InnodbDataDir:                     "data",
		InnodbPageSize:                    16384,     // 16KB
		InnodbBufferPoolSize:              134217728, // 128MB
		InnodbFatalSemaphoreWaitThreshold: 600,
		InnodbCompressionFailureThreshold: 5,
		InnodbCompressionPadPctMax:        50,
		InnodbCompressionAlgorithm:        "zlib",
		InnodbStatsPersistent:             true,
		LockWaitTimeout:                   86400,
		// 数据字典缓存
		TableDefinitionCache: 400,
		LRUScanPct:           100,
		MaxRenameRetries:     64,
		EvictionInterval:     time.Second,
	}
}

// Load 读取配置文件；文件不存在时使用默认配置
func (cfg *Cfg) Load(configPath string) (*Cfg, error) {
	iniFile, err := loadConfiguration(configPath)
	if err != nil {
		return nil, errors.Annotatef(err, "load config %s", configPath)
	}
	cfg.Raw = iniFile

	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	cfg.parseInnodbCfg(cfg.Raw.Section("innodb"))
	cfg.parseDictCfg(cfg.Raw.Section("dict"))
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func loadConfiguration(configPath string) (*ini.File, error) {
	if configPath == "" {
		configPath = filepath.Join("conf", "my.ini")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return ini.Empty(), nil
	}
	return ini.Load(configPath)
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	cfg.LogError = section.Key("log_error").MustString(cfg.LogError)
	cfg.LogInfos = section.Key("log_infos").MustString(cfg.LogInfos)
	cfg.LogForeignKey = section.Key("log_foreign_key").MustString(cfg.LogForeignKey)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)
}

func (cfg *Cfg) parseInnodbCfg(section *ini.Section) {
	cfg.InnodbDataDir = section.Key("innodb_data_dir").MustString(cfg.InnodbDataDir)
	cfg.InnodbPageSize = section.Key("innodb_page_size").MustInt(cfg.InnodbPageSize)
	cfg.InnodbBufferPoolSize = section.Key("innodb_buffer_pool_size").MustInt64(cfg.InnodbBufferPoolSize)
	cfg.InnodbFatalSemaphoreWaitThreshold = section.Key("innodb_fatal_semaphore_wait_threshold").
		MustInt(cfg.InnodbFatalSemaphoreWaitThreshold)
	cfg.InnodbCompressionFailureThreshold = section.Key("innodb_compression_failure_threshold_pct").
		MustInt(cfg.InnodbCompressionFailureThreshold)
	cfg.InnodbCompressionPadPctMax = section.Key("innodb_compression_pad_pct_max").MustInt(cfg.InnodbCompressionPadPctMax)
	cfg.InnodbCompressionAlgorithm = section.Key("innodb_compression_algorithm").MustString(cfg.InnodbCompressionAlgorithm)
	cfg.InnodbStatsPersistent = section.Key("innodb_stats_persistent").MustBool(cfg.InnodbStatsPersistent)
	cfg.LowerCaseTableNames = section.Key("lower_case_table_names").MustInt(cfg.LowerCaseTableNames)
	cfg.LockWaitTimeout = section.Key("lock_wait_timeout").MustInt(cfg.LockWaitTimeout)
}

func (cfg *Cfg) parseDictCfg(section *ini.Section) {
	cfg.TableDefinitionCache = section.Key("table_definition_cache").MustInt(cfg.TableDefinitionCache)
	cfg.LRUScanPct = section.Key("lru_scan_pct").MustInt(cfg.LRUScanPct)
	cfg.MaxRenameRetries = section.Key("max_rename_retries").MustInt(cfg.MaxRenameRetries)
	cfg.EvictionInterval = section.Key("eviction_interval").MustDuration(cfg.EvictionInterval)
}

func (cfg *Cfg) validate() error {
	switch {
	case cfg.InnodbPageSize < 4096 || cfg.InnodbPageSize > 65536 || cfg.InnodbPageSize&(cfg.InnodbPageSize-1) != 0:
		return errors.Errorf("innodb_page_size %d must be a power of two in [4096, 65536]", cfg.InnodbPageSize)
	case cfg.InnodbCompressionFailureThreshold < 0 || cfg.InnodbCompressionFailureThreshold > 100:
		return errors.Errorf("innodb_compression_failure_threshold_pct %d out of range", cfg.InnodbCompressionFailureThreshold)
	case cfg.InnodbCompressionPadPctMax < 0 || cfg.InnodbCompressionPadPctMax > 75:
		return errors.Errorf("innodb_compression_pad_pct_max %d out of range", cfg.InnodbCompressionPadPctMax)
	case cfg.LRUScanPct <= 0 || cfg.LRUScanPct > 100:
		return errors.Errorf("lru_scan_pct %d must be in (0, 100]", cfg.LRUScanPct)
	case cfg.LowerCaseTableNames < 0 || cfg.LowerCaseTableNames > 2:
		return errors.Errorf("lower_case_table_names %d must be 0, 1 or 2", cfg.LowerCaseTableNames)
	case cfg.MaxRenameRetries <= 0:
		return errors.Errorf("max_rename_retries %d must be positive", cfg.MaxRenameRetries)
	}
	return nil
}

// FatalSemaphoreWait 字典互斥锁等待的致命阈值
func (cfg *Cfg) FatalSemaphoreWait() time.Duration {
	return time.Duration(cfg.InnodbFatalSemaphoreWaitThreshold) * time.Second
}

// LockWait 元数据锁等待超时
func (cfg *Cfg) LockWait() time.Duration {
	return time.Duration(cfg.LockWaitTimeout) * time.Second
}
