package main

import (
	"fmt"
	"os"

	"github.com/xstoragedb/xstorage/conf"
	"github.com/xstoragedb/xstorage/logger"
	"github.com/xstoragedb/xstorage/storage/buffer"
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/index"
)

func main() {
	fmt.Println("=== B+树索引演示 ===")

	// 创建配置
	cfg := conf.NewCfg()
	cfg.DataDir = "demo_data"
	cfg.BufferPoolPages = 64
	cfg.ReplacerK = 2
	if len(os.Args) > 1 {
		cfg = cfg.Load(&conf.CommandLineArgs{ConfigPath: os.Args[1]})
	}

	if err := logger.InitLogger(logger.LogConfig{LogLevel: cfg.LogLevel}); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		return
	}

	fmt.Println("1. 创建缓冲池...")
	bpm, err := buffer.NewBufferPoolManagerWithConfig(cfg)
	if err != nil {
		logger.Fatalf("create buffer pool: %v", err)
	}
	defer bpm.Close()

	fmt.Println("2. 创建B+树索引...")
	tree := index.NewBPlusTree("demo_index", bpm, 4, 5)

	fmt.Println("\n3. 插入键 1..16...")
	for key := int64(1); key <= 16; key++ {
		if !tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))) {
			logger.Warnf("duplicate key %d", key)
		}
	}
	tree.Print()

	fmt.Println("\n4. 点查询...")
	for _, key := range []int64{7, 16, 42} {
		result := tree.GetValue(key)
		if len(result) == 0 {
			fmt.Printf("  key %d => not found\n", key)
		} else {
			fmt.Printf("  key %d => %s\n", key, result[0])
		}
	}

	fmt.Println("\n5. 正向遍历...")
	count := 0
	for it := tree.Begin(); !it.IsEnd(); it.Next() {
		key, rid := it.Entry()
		fmt.Printf("  %d -> %s\n", key, rid)
		count++
	}
	fmt.Printf("  共 %d 条\n", count)

	fmt.Println("\n6. 删除 8,9,10,11 触发合并...")
	for _, key := range []int64{8, 9, 10, 11} {
		tree.Remove(key)
	}
	tree.Print()

	if err := tree.Draw("demo_data/btree.dot"); err != nil {
		logger.Warnf("draw tree: %v", err)
	}

	stats := bpm.Stats()
	fmt.Printf("\n缓冲池统计: hits=%d misses=%d evictions=%d flushes=%d\n",
		stats["hits"], stats["misses"], stats["evictions"], stats["flushes"])

	fmt.Println("\n=== 演示完成 ===")
}
