package cli

import (
	"fmt"
	"time"

	"planhub/internal/config"
	"planhub/internal/middleware"

	"github.com/spf13/cobra"
)

var (
	flagUserID   string
	flagRole     string
	flagTTLMin   int
	flagNoExpiry bool
)

// tokenCmd generates an HS256 JWT for testing/admin usage.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		secret := cfg.JWT.Secret
		if secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		now := time.Now()
		claims := map[string]interface{}{
			"iat":     now.Unix(),
			"sub":     flagUserID,
			"user_id": flagUserID,
			"role":    flagRole,
		}
		if !flagNoExpiry {
			claims["exp"] = now.Add(time.Duration(flagTTLMin) * time.Minute).Unix()
		}
		tok, err := middleware.SignHS256JWT(claims, secret)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&flagUserID, "user-id", "admin", "user id to embed in token")
	tokenCmd.Flags().StringVar(&flagRole, "role", "admin", "role claim (member, manager, admin)")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
	tokenCmd.Flags().BoolVar(&flagNoExpiry, "no-exp", false, "do not include exp claim")
}
