package cmd

import (
	"fmt"
	"log"

	"github.com/ssebide/music-platform/storage"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和清理发布到MinIO存储桶中的已完成音频，支持列出文件、查看统计信息、按前缀删除。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		publisher, err := storage.NewMinioPublisher(cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}

		prefix := minioPrefix
		if prefix == "" {
			prefix = cfg.PublishPrefix
		}

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := publisher.RemovePrefix(cmd.Context(), minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个文件\n", n)
			return
		}

		objects, stats, err := publisher.List(cmd.Context(), prefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		if minioStats {
			fmt.Println("\n存储桶统计信息:")
			fmt.Printf("  文件总数: %d\n", stats.TotalObjects)
			fmt.Printf("  总大小: %s\n", units.HumanSize(float64(stats.TotalSize)))
			if stats.TotalObjects > 0 {
				fmt.Printf("  最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
			return
		}

		fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", prefix)
		for _, obj := range objects {
			fmt.Printf("%-60s %10s  %-12s %s\n",
				obj.Key,
				units.HumanSize(float64(obj.Size)),
				obj.ContentType,
				obj.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\n共 %d 个文件, %s\n", stats.TotalObjects, units.HumanSize(float64(stats.TotalSize)))
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要删除的目录，默认使用 PUBLISH_PREFIX")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出已发布的音频
  music-platform minio

  # 按前缀过滤文件
  music-platform minio -p "uploads/"

  # 显示存储桶统计信息
  music-platform minio -s

  # 删除目录及其下的所有文件
  music-platform minio -d -p "uploads/2024/"`
}
