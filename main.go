package main

import (
	"flag"
	"fmt"

	"github.com/xstoragedb/xstorage/conf"
	"github.com/xstoragedb/xstorage/logger"
	"github.com/xstoragedb/xstorage/storage/buffer"
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/index"
)

const help = `
******************************************************************************************

 __   __ _____ _______ ____  _____            _____ ______
 \ \ / // ____|__   __/ __ \|  __ \     /\   / ____|  ____|
  \ V /| (___    | | | |  | | |__) |   /  \ | |  __| |__
   > <  \___ \   | | | |  | |  _  /   / /\ \| | |_ |  __|
  / . \ ____) |  | | | |__| | | \ \  / ____ \ |__| | |____
 /_/ \_\_____/   |_|  \____/|_|  \_\/_/    \_\_____|______|

******************************************************************************************
*帮助:
*1. -- help
*2. -- configPath   指定my.ini配置文件
*3. -- check        启动后做一次索引自检
******************************************************************************************
`

func main() {
	configPath := flag.String("configPath", "", "config file path")
	check := flag.Bool("check", false, "run a storage self check after startup")
	showHelp := flag.Bool("help", false, "show help")
	flag.Parse()

	if *showHelp {
		fmt.Print(help)
		return
	}

	cfg := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: *configPath})

	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		return
	}

	logger.Infof("starting xstorage engine, data dir: %s", cfg.DataDir)

	bpm, err := buffer.NewBufferPoolManagerWithConfig(cfg)
	if err != nil {
		logger.Fatalf("failed to start storage engine: %v", err)
	}
	defer func() {
		if err := bpm.Close(); err != nil {
			logger.Errorf("close buffer pool: %v", err)
		}
	}()

	logger.Infof("buffer pool ready: %d frames of %d bytes", bpm.PoolSize(), common.UNIV_PAGE_SIZE)

	if *check {
		runSelfCheck(bpm, cfg)
	}

	logger.Info("xstorage engine shut down")
}

// runSelfCheck 对系统索引做一轮插入/查询/删除自检
func runSelfCheck(bpm *buffer.BufferPoolManager, cfg *conf.Cfg) {
	tree := index.NewBPlusTree("sys_check", bpm, cfg.LeafMaxSize, cfg.InternalMaxSize)

	for key := int64(1); key <= 64; key++ {
		tree.Insert(key, common.NewRID(common.PageID(key), uint32(key)))
	}
	for key := int64(1); key <= 64; key++ {
		if len(tree.GetValue(key)) != 1 {
			logger.Errorf("self check: key %d missing after insert", key)
			return
		}
	}
	for key := int64(1); key <= 64; key++ {
		tree.Remove(key)
	}
	if !tree.IsEmpty() {
		logger.Error("self check: tree not empty after removing all keys")
		return
	}

	stats := bpm.Stats()
	logger.Infof("self check passed, buffer pool stats: hits=%d misses=%d evictions=%d flushes=%d",
		stats["hits"], stats["misses"], stats["evictions"], stats["flushes"])
}
