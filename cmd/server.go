package cmd

import (
	"github.com/ssebide/music-platform/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动上传服务器",
	Long:  `启动分片上传服务的HTTP服务器，提供上传API、进度推送和音频文件访问`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
