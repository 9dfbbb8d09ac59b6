package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/user/marquee/internal/config"
	"github.com/user/marquee/internal/llm"
	"github.com/user/marquee/internal/repository"
	"github.com/user/marquee/internal/service"
)

// 一次性抓取任务：抓取 Metrograph 排片写入数据库。
// 加 -embed 参数时抓取完成后顺带同步向量，方便 cron 一条命令跑完整条流水线。
func main() {
	embed := flag.Bool("embed", false, "抓取完成后同步缺失的电影向量")
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

	scraper := service.NewScraper(repos.Movie, repos.Showtime)
	if err := scraper.Crawl(); err != nil {
		log.Fatalf("[Scraper] 抓取失败: %v", err)
	}

	if *embed {
		syncSvc := service.NewEmbeddingSyncService(repos.Movie, llm.NewEmbedder(cfg), cfg.EmbedModel)
		if err := syncSvc.Run(service.SyncOptions{BatchSize: cfg.EmbedBatchSize}); err != nil {
			log.Fatalf("[EmbedSync] 向量同步失败: %v", err)
		}
	}
}
