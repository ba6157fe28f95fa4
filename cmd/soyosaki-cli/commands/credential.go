package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"soyosaki-backend/internal/keychain"
	"soyosaki-backend/internal/novel"
)

var (
	credCookie       *string
	credRefreshToken *string
	credSessdata     *string
	credCaptToken    *string
)

func init() {
	credCookie = credentialSetCmd.Flags().String("cookie", "", "Login cookie header (lofter).")
	credRefreshToken = credentialSetCmd.Flags().String("refresh-token", "", "OAuth refresh token (pixiv).")
	credSessdata = credentialSetCmd.Flags().String("sessdata", "", "SESSDATA cookie value (bilibili, optional).")
	credCaptToken = credentialSetCmd.Flags().String("capt-token", "", "Captcha token (lofter login flow).")

	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialClearCmd)
	rootCmd.AddCommand(credentialCmd)
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manages the per-source credentials in the keychain.",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <source> [--cookie ...] [--refresh-token ...] [--sessdata ...]",
	Short: "Stores a credential for one source, replacing any previous one.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, err := novel.ParseSource(args[0])
		if err != nil {
			fatal("bad source", err)
		}

		cfg := loadConfig()
		keys, err := keychain.Open(cfg.KeychainPath)
		if err != nil {
			fatal("failed to open keychain", err)
		}
		defer keys.Close()

		err = keys.Set(cmd.Context(), source, keychain.Credential{
			Cookie:       *credCookie,
			RefreshToken: *credRefreshToken,
			Sessdata:     *credSessdata,
			CaptToken:    *credCaptToken,
		})
		if err != nil {
			fatal("failed to store credential", err)
		}
		slog.Info("credential stored", "source", source)
	},
}

var credentialClearCmd = &cobra.Command{
	Use:   "clear <source>",
	Short: "Removes the stored credential for one source, disabling it.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, err := novel.ParseSource(args[0])
		if err != nil {
			fatal("bad source", err)
		}

		cfg := loadConfig()
		keys, err := keychain.Open(cfg.KeychainPath)
		if err != nil {
			fatal("failed to open keychain", err)
		}
		defer keys.Close()

		if err := keys.Clear(cmd.Context(), source); err != nil {
			fatal("failed to clear credential", err)
		}
		slog.Info("credential cleared", "source", source)
	},
}
