package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	sealCategory string
	sealMinutes  int64
	sealListener string
	sealValue    string
)

func init() {
	rootCmd.AddCommand(sealCmd)

	sealCmd.Flags().StringVar(&sealCategory, "category", "", "podcast category to seal")
	sealCmd.Flags().Int64Var(&sealMinutes, "minutes", -1, "minutes listened to seal")
	sealCmd.Flags().StringVar(&sealListener, "listener", "", "listener id to seal")
	sealCmd.Flags().StringVar(&sealValue, "value", "", "seal a single arbitrary value instead of a bundle")
}

// sealCmd seals plaintext through the oracled socket. With --value it prints
// a single handle; with --category/--minutes/--listener it prints a complete
// cipher bundle ready for `cipherfeedctl submit --bundle -`.
var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal plaintext into oracle handles",
	Long: `Seal plaintext values into ciphertext handles via the oracled unix socket.
The server itself never seals; only the oracle holds the master key.`,
	RunE: runSeal,
}

func runSeal(cmd *cobra.Command, args []string) error {
	s := resolveSettings(cmd)

	if sealValue != "" {
		handle, err := sealViaSocket(s.OracledSocket, []byte(sealValue), s.Timeout)
		if err != nil {
			return err
		}
		return printJSON(map[string][]byte{"handle": handle})
	}

	if sealCategory == "" || sealMinutes < 0 || sealListener == "" {
		return fmt.Errorf("either --value or all of --category, --minutes and --listener are required")
	}

	bundle, err := sealBundle(s, sealCategory, sealMinutes, sealListener)
	if err != nil {
		return err
	}
	return printJSON(bundle)
}

// cipherBundle mirrors the server's record submission body. The byte slices
// render as base64 strings on the wire.
type cipherBundle struct {
	Category []byte `json:"category"`
	Minutes  []byte `json:"minutes"`
	Listener []byte `json:"listener"`
}

// sealBundle seals the three fields of one listen record. Minutes travel as
// their decimal rendering; the oracle parses them back on decryption.
func sealBundle(s settings, category string, minutes int64, listener string) (cipherBundle, error) {
	var b cipherBundle
	var err error
	if b.Category, err = sealViaSocket(s.OracledSocket, []byte(category), s.Timeout); err != nil {
		return b, fmt.Errorf("failed to seal category: %w", err)
	}
	if b.Minutes, err = sealViaSocket(s.OracledSocket, []byte(strconv.FormatInt(minutes, 10)), s.Timeout); err != nil {
		return b, fmt.Errorf("failed to seal minutes: %w", err)
	}
	if b.Listener, err = sealViaSocket(s.OracledSocket, []byte(listener), s.Timeout); err != nil {
		return b, fmt.Errorf("failed to seal listener: %w", err)
	}
	return b, nil
}
