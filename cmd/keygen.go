package cmd

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yourorg/badgeauth/internal/keys"
)

var (
	keygenBits       int
	keygenPrivateOut string
	keygenPublicOut  string
	keygenForce      bool
	keygenPrintEnv   bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for signing platform tokens",
	Long: `Generate an RSA key pair and write it to the paths the service reads
when PLATFORM_JWT_PRIVATE_KEY and PLATFORM_JWT_PUBLIC_KEY are unset.

With --print-env the pair is also printed as base64 values suitable for
PLATFORM_JWT_PRIVATE_KEY_B64 and PLATFORM_JWT_PUBLIC_KEY_B64.`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA modulus size")
	keygenCmd.Flags().StringVar(&keygenPrivateOut, "private-out", keys.DefaultPrivateKeyPath, "private key output path")
	keygenCmd.Flags().StringVar(&keygenPublicOut, "public-out", keys.DefaultPublicKeyPath, "public key output path")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite existing key files")
	keygenCmd.Flags().BoolVar(&keygenPrintEnv, "print-env", false, "print base64 environment values")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if !keygenForce {
		for _, p := range []string{keygenPrivateOut, keygenPublicOut} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists; use --force to overwrite", p)
			}
		}
	}
	m, err := keys.GenerateRSA(keygenBits)
	if err != nil {
		return err
	}
	if err := writeKey(keygenPrivateOut, m.PrivatePEM, 0o600); err != nil {
		return err
	}
	if err := writeKey(keygenPublicOut, m.PublicPEM, 0o644); err != nil {
		return err
	}
	cmd.Printf("wrote %s and %s\n", keygenPrivateOut, keygenPublicOut)
	if keygenPrintEnv {
		cmd.Printf("PLATFORM_JWT_PRIVATE_KEY_B64=%s\n", base64.StdEncoding.EncodeToString(m.PrivatePEM))
		cmd.Printf("PLATFORM_JWT_PUBLIC_KEY_B64=%s\n", base64.StdEncoding.EncodeToString(m.PublicPEM))
	}
	return nil
}

func writeKey(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
