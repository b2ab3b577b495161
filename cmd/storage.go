package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"VoxFM/config"
	"VoxFM/logger"
	"VoxFM/storage"

	"github.com/spf13/cobra"
)

var storageProbeKey string

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "云存储连通性检查",
	Long:  `检查MinIO配置与存储桶连通性，可选地对指定对象键做一次真实读取探测。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始检查云存储配置...")

		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.WarnLevel})

		if !cfg.CloudConfigured() {
			fmt.Println("MinIO未配置，服务将以仅内联存储模式运行")
			return
		}
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		// NewStore 会检查存储桶并在缺失时创建
		store, err := storage.NewStore(cfg, nil)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		if storageProbeKey != "" {
			fmt.Printf("\n探测对象: %s\n", storageProbeKey)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if store.ProbeReadable(ctx, storage.CloudPointer(storageProbeKey)) {
				fmt.Println("对象可读")
			} else {
				fmt.Println("对象不可读或不存在")
			}
		}

		fmt.Println("\n云存储检查完成！")
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)

	storageCmd.Flags().StringVarP(&storageProbeKey, "probe", "p", "", "对指定对象键做一次1字节读取探测")

	storageCmd.Example = `  # 检查存储桶连通性
  voxfm_server storage

  # 探测某个对象是否可读
  voxfm_server storage -p "audio/1/ab12cd34_song.mp3"`
}
