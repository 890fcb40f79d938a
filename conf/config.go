package conf

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/xstoragedb/xstorage/logger"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/*
*
user		= xstorage
datadir		= /var/lib/xstorage
xstorage_page_size      = 4096
xstorage_buffer_pool_pages = 1024
xstorage_replacer_k     = 2
*/
type Cfg struct {
	Raw     *ini.File
	User    string
	BaseDir string
	DataDir string
	AppName string

	// logs
	LogError string `default:"logs/error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"logs/xstorage.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// engine
	DataFilePath     string `default:"xstorage.ibd" yaml:"data_file_path" json:"data_file_path,omitempty"`
	WalFilePath      string `default:"xstorage.wal" yaml:"wal_file_path" json:"wal_file_path,omitempty"`
	PageSize         int    `default:"4096" yaml:"page_size" json:"page_size,omitempty"`
	BufferPoolPages  int    `default:"1024" yaml:"buffer_pool_pages" json:"buffer_pool_pages,omitempty"`
	ReplacerK        int    `default:"2" yaml:"replacer_k" json:"replacer_k,omitempty"`
	HashBucketSize   int    `default:"32" yaml:"hash_bucket_size" json:"hash_bucket_size,omitempty"`
	LeafMaxSize      int    `default:"0" yaml:"leaf_max_size" json:"leaf_max_size,omitempty"`
	InternalMaxSize  int    `default:"0" yaml:"internal_max_size" json:"internal_max_size,omitempty"`
	FlushOnClose     bool   `default:"true" yaml:"flush_on_close" json:"flush_on_close,omitempty"`
	WalBufferSize    int    `default:"65536" yaml:"wal_buffer_size" json:"wal_buffer_size,omitempty"`
	TuningOverrides  string `default:"" yaml:"tuning_overrides" json:"tuning_overrides,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:     ini.Empty(),
		User:    "xstorage",
		AppName: "xstorage",
		DataDir: "data",

		LogError: "logs/error.log",
		LogInfos: "logs/xstorage.log",
		LogLevel: "info",

		DataFilePath:    "xstorage.ibd",
		WalFilePath:     "xstorage.wal",
		PageSize:        4096,
		BufferPoolPages: 1024,
		ReplacerK:       2,
		HashBucketSize:  32,
		FlushOnClose:    true,
		WalBufferSize:   65536,
	}
}

// Load 从my.ini风格的配置文件加载配置
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	if args == nil || args.ConfigPath == "" {
		return cfg
	}
	ConfigPath = args.ConfigPath

	iniFile, err := ini.Load(args.ConfigPath)
	if err != nil {
		logger.Warnf("failed to load config file %s, using defaults: %v", args.ConfigPath, err)
		return cfg
	}
	cfg.Raw = iniFile

	section := iniFile.Section("xstoraged")
	cfg.User = section.Key("user").MustString(cfg.User)
	cfg.BaseDir = section.Key("basedir").MustString(cfg.BaseDir)
	cfg.DataDir = section.Key("datadir").MustString(cfg.DataDir)

	cfg.LogError = section.Key("log_error").MustString(cfg.LogError)
	cfg.LogInfos = section.Key("log_infos").MustString(cfg.LogInfos)
	cfg.LogLevel = section.Key("log_level").MustString(cfg.LogLevel)

	cfg.DataFilePath = section.Key("xstorage_data_file_path").MustString(cfg.DataFilePath)
	cfg.WalFilePath = section.Key("xstorage_wal_file_path").MustString(cfg.WalFilePath)
	cfg.PageSize = section.Key("xstorage_page_size").MustInt(cfg.PageSize)
	cfg.BufferPoolPages = section.Key("xstorage_buffer_pool_pages").MustInt(cfg.BufferPoolPages)
	cfg.ReplacerK = section.Key("xstorage_replacer_k").MustInt(cfg.ReplacerK)
	cfg.HashBucketSize = section.Key("xstorage_hash_bucket_size").MustInt(cfg.HashBucketSize)
	cfg.LeafMaxSize = section.Key("xstorage_leaf_max_size").MustInt(cfg.LeafMaxSize)
	cfg.InternalMaxSize = section.Key("xstorage_internal_max_size").MustInt(cfg.InternalMaxSize)
	cfg.FlushOnClose = section.Key("xstorage_flush_on_close").MustBool(cfg.FlushOnClose)
	cfg.WalBufferSize = section.Key("xstorage_wal_buffer_size").MustInt(cfg.WalBufferSize)
	cfg.TuningOverrides = section.Key("xstorage_tuning_overrides").MustString(cfg.TuningOverrides)

	if cfg.TuningOverrides != "" {
		if err := cfg.applyTuningOverrides(cfg.TuningOverrides); err != nil {
			logger.Warnf("failed to apply tuning overrides %s: %v", cfg.TuningOverrides, err)
		}
	}

	return cfg
}

// TuningConfig 调优参数，toml格式的覆盖文件
type TuningConfig struct {
	BufferPoolPages int64 `toml:"buffer_pool_pages"`
	ReplacerK       int64 `toml:"replacer_k"`
	HashBucketSize  int64 `toml:"hash_bucket_size"`
	LeafMaxSize     int64 `toml:"leaf_max_size"`
	InternalMaxSize int64 `toml:"internal_max_size"`
}

// applyTuningOverrides 读取toml调优文件，覆盖ini中的引擎参数
func (cfg *Cfg) applyTuningOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}

	var tuning TuningConfig
	if err := toml.Unmarshal(data, &tuning); err != nil {
		return errors.Annotatef(err, "parse tuning file %s", path)
	}

	if tuning.BufferPoolPages > 0 {
		cfg.BufferPoolPages = int(tuning.BufferPoolPages)
	}
	if tuning.ReplacerK > 0 {
		cfg.ReplacerK = int(tuning.ReplacerK)
	}
	if tuning.HashBucketSize > 0 {
		cfg.HashBucketSize = int(tuning.HashBucketSize)
	}
	if tuning.LeafMaxSize > 0 {
		cfg.LeafMaxSize = int(tuning.LeafMaxSize)
	}
	if tuning.InternalMaxSize > 0 {
		cfg.InternalMaxSize = int(tuning.InternalMaxSize)
	}

	return nil
}

// DataFile 返回数据目录与数据文件名拼接后的路径
func (cfg *Cfg) DataFile() string {
	return filepath.Join(cfg.DataDir, cfg.DataFilePath)
}

// WalFile 返回数据目录与WAL文件名拼接后的路径
func (cfg *Cfg) WalFile() string {
	return filepath.Join(cfg.DataDir, cfg.WalFilePath)
}
