package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"cipherfeed/clients/cli/config"
)

// ForAPIKey prompts for an API key with masked input and a confirmation
// round. With optional set, an empty entry skips the key.
func ForAPIKey(label string, optional bool) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		suffix := ""
		if optional {
			suffix = " (empty to skip)"
		}
		fmt.Printf("%s%s: ", label, suffix)

		key, err := readMasked(reader)
		if err != nil {
			return "", err
		}
		if key == "" {
			if optional {
				return "", nil
			}
			fmt.Println("Key cannot be empty.")
			continue
		}

		if err := config.ValidateAPIKey(key); err != nil {
			fmt.Printf("Invalid key: %v\n", err)
			continue
		}

		fmt.Printf("Confirm %s: ", label)
		confirm, err := readMasked(reader)
		if err != nil {
			return "", err
		}
		if key != confirm {
			fmt.Println("Keys do not match. Please try again.")
			continue
		}

		return key, nil
	}
}

// readMasked reads a line without echo, falling back to plain input when the
// terminal does not support it (pipes, CI).
func readMasked(reader *bufio.Reader) (string, error) {
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	// Print newline after password input
	fmt.Println()
	return strings.TrimSpace(string(keyBytes)), nil
}

// ForString prompts for a plain value with a default shown in brackets.
func ForString(label, def string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return def, nil
	}
	return value, nil
}

// ForPath prompts for a filesystem path, re-asking until it exists when
// mustExist is set.
func ForPath(label string, mustExist bool) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}

		path := strings.TrimSpace(line)
		if path == "" {
			fmt.Printf("%s cannot be empty.\n", label)
			continue
		}

		if mustExist {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Printf("Path does not exist: %s\n", path)
				continue
			}
		}

		return path, nil
	}
}

// Confirm prompts for a yes/no confirmation
func Confirm(message string) bool {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("%s [y/N]: ", message)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}

		response := strings.TrimSpace(strings.ToLower(line))
		switch response {
		case "y", "yes":
			return true
		case "n", "no", "":
			return false
		default:
			fmt.Println("Please enter 'y' or 'n'.")
		}
	}
}

// MaskKey masks a secret for display
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
