package cmd

import (
	"fmt"
	"log"

	"VoxFM/config"
	"VoxFM/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连通性检查",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接Redis服务器...")

		cfg := config.Load()
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer db.CloseRedis()

		if err := db.TestRedis(); err != nil {
			log.Fatalf("Redis读写测试失败: %v", err)
		}

		fmt.Println("Redis连接与读写测试通过！")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
