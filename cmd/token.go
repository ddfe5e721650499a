package cmd

import (
	"fmt"
	"log"

	"github.com/ssebide/music-platform/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID   int64
	tokenUsername string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发访问令牌",
	Long:  `使用 JWT_SECRET 为指定用户签发上传接口所需的访问令牌，便于调试。`,
	Run: func(cmd *cobra.Command, args []string) {
		if tokenUserID <= 0 {
			log.Fatal("--user must be a positive user id")
		}
		tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)
		token, err := tokens.GenerateToken(tokenUserID, tokenUsername)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Int64VarP(&tokenUserID, "user", "u", 0, "用户ID")
	tokenCmd.Flags().StringVarP(&tokenUsername, "name", "n", "", "用户名")
	tokenCmd.Example = `  music-platform token -u 42 -n alice`
}
