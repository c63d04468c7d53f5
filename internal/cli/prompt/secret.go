package prompt

import (
	"fmt"

	"github.com/manifoldco/promptui"
)

// Password prompts for the worker account password with masking.
func Password(username, host string) (string, error) {
	label := "Password"
	if username != "" {
		label = fmt.Sprintf("Password for %s", username)
		if host != "" {
			label += "@" + host
		}
	}

	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := p.Run()
	return result, wrapError(err)
}

// Passphrase prompts for the passphrase protecting a private key file.
func Passphrase(keyPath string) (string, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("Passphrase for %s", keyPath),
		Mask:  '*',
	}

	result, err := p.Run()
	return result, wrapError(err)
}
