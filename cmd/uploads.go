package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ssebide/music-platform/core/upload"
	"github.com/ssebide/music-platform/server"

	"github.com/spf13/cobra"
)

var uploadsUserID int64

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "管理未完成的上传",
	Long:  `查看未完成的上传、重新探测已拼接文件的时长，或监听分片工作区的变化。`,
}

var uploadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出用户未完成的上传",
	Run: func(cmd *cobra.Command, args []string) {
		if uploadsUserID <= 0 {
			log.Fatal("--user must be a positive user id")
		}
		app, err := server.NewApp(cmd.Context(), cfg)
		if err != nil {
			log.Fatalf("初始化失败: %v", err)
		}
		defer app.Close()

		uploads, err := app.Service.ListIncomplete(cmd.Context(), uploadsUserID)
		if err != nil {
			log.Fatalf("查询未完成上传失败: %v", err)
		}
		if len(uploads) == 0 {
			fmt.Println("没有未完成的上传")
			return
		}
		fmt.Printf("%-36s  %-11s  %9s  %s\n", "TRACK", "STATUS", "RECEIVED", "FILE")
		for _, u := range uploads {
			fmt.Printf("%-36s  %-11s  %4d/%-4d  %s\n",
				u.TrackID, u.Status, len(u.ReceivedChunks), u.TotalChunks, u.FileName)
		}
	},
}

var uploadsReprobeCmd = &cobra.Command{
	Use:   "reprobe <trackId>",
	Short: "重新探测已拼接文件的时长",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := server.NewApp(cmd.Context(), cfg)
		if err != nil {
			log.Fatalf("初始化失败: %v", err)
		}
		defer app.Close()

		res, err := app.Service.Reprobe(cmd.Context(), args[0])
		if err != nil {
			log.Fatalf("重新探测失败: %v", err)
		}
		fmt.Printf("track %s is %s, duration %ds\n", res.TrackID, res.Status, res.DurationSeconds)
	},
}

var uploadsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听分片工作区",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		watcher := upload.NewWorkspaceWatcher(upload.NewChunkStore(cfg.WorkspaceDir))
		fmt.Printf("监听工作区: %s (Ctrl+C 退出)\n", cfg.WorkspaceDir)
		err := watcher.Run(ctx, func(a upload.WorkspaceActivity) {
			if a.Kind == upload.ActivityChunkCommitted {
				fmt.Printf("%-18s %s chunk %d\n", a.Kind, a.TrackID, a.ChunkIndex)
				return
			}
			fmt.Printf("%-18s %s\n", a.Kind, a.TrackID)
		})
		if err != nil {
			log.Fatalf("监听失败: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	uploadsCmd.AddCommand(uploadsListCmd, uploadsReprobeCmd, uploadsWatchCmd)

	uploadsListCmd.Flags().Int64VarP(&uploadsUserID, "user", "u", 0, "用户ID")
	uploadsCmd.Example = `  music-platform uploads list -u 42
  music-platform uploads reprobe 7d0f3c7e-2f7b-4d57-9a4e-0c1f0e8e4a11
  music-platform uploads watch`
}
