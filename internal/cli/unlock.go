package cli

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/invigil/sdk/go/invigil"
)

func init() {
	rootCmd.AddCommand(unlockCmd)
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Present the unlock secret to permit graceful unload",
	Long: "Prompts for the unlock secret (no echo) and presents it to the\n" +
		"daemon. The secret is the 32-byte passphrase itself or its\n" +
		"64-character hex form. Five failures arm a 30-second lockout.",
	RunE: runUnlock,
}

func runUnlock(cmd *cobra.Command, args []string) error {
	secret, err := readSecret()
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Unlock(secret); err != nil {
		if invigil.Denied(err) {
			return fmt.Errorf("unlock denied (wrong secret, or lockout in force)")
		}
		return err
	}
	fmt.Println("unlock accepted; graceful unload permitted")
	return nil
}

// readSecret reads the secret without echo on a terminal, or one line
// from stdin otherwise (pipelines, tests).
func readSecret() ([]byte, error) {
	var raw string
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Unlock secret: ")
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read secret: %w", err)
		}
		raw = string(b)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read secret: %w", err)
		}
		raw = strings.TrimRight(line, "\r\n")
	}
	return parseSecret(raw)
}

// parseSecret accepts the 32-byte passphrase directly or its 64-char
// hex encoding.
func parseSecret(raw string) ([]byte, error) {
	if len(raw) == 2*invigil.SecretSize {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}
	if len(raw) != invigil.SecretSize {
		return nil, fmt.Errorf("secret must be exactly %d bytes or %d hex characters, got %d bytes",
			invigil.SecretSize, 2*invigil.SecretSize, len(raw))
	}
	return []byte(raw), nil
}
