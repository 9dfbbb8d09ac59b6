package main

import (
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/user/marquee/internal/config"
	"github.com/user/marquee/internal/llm"
	"github.com/user/marquee/internal/repository"
	"github.com/user/marquee/internal/service"
)

// 向量同步工具：为缺失或过期的电影简介计算向量并写回数据库。
func main() {
	limit := flag.Int("limit", 0, "最多处理的电影数，0 不限制")
	batchSize := flag.Int("batch-size", 0, "每批向量请求数量，0 使用配置默认值")
	refreshAll := flag.Bool("refresh-all", false, "忽略哈希，全量重算所有电影向量")
	sleep := flag.Duration("sleep", 0, "批与批之间的等待时间，如 500ms")
	dryRun := flag.Bool("dry-run", false, "只打印计划，不写库不调用向量服务")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := repository.AutoMigrate(db); err != nil {
		log.Fatalf("表结构同步失败: %v", err)
	}

	repos := repository.NewRepositories(db)

	if *batchSize <= 0 {
		*batchSize = cfg.EmbedBatchSize
	}

	syncSvc := service.NewEmbeddingSyncService(repos.Movie, llm.NewEmbedder(cfg), cfg.EmbedModel)

	start := time.Now()
	if err := syncSvc.Run(service.SyncOptions{
		RefreshAll: *refreshAll,
		Limit:      *limit,
		BatchSize:  *batchSize,
		Sleep:      *sleep,
		DryRun:     *dryRun,
	}); err != nil {
		log.Fatalf("[EmbedSync] 向量同步失败: %v", err)
	}
	log.Printf("[EmbedSync] 同步完成，耗时 %v", time.Since(start))
}
