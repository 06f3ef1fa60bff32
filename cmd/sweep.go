package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/session"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and used OAuth sessions once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		a := &app{cfg: cfg, logger: logger}
		if err := openStores(cmd.Context(), a); err != nil {
			return err
		}
		defer a.Close()

		res, err := session.Sweep(cmd.Context(), a.sessions)
		if err != nil {
			return err
		}
		logger.Info("oauth sessions swept", zap.Int64("expired", res.Expired), zap.Int64("used", res.Used))
		cmd.Printf("removed %d expired and %d used sessions\n", res.Expired, res.Used)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
