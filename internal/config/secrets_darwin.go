//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// errItemNotFound is the security CLI exit status for a missing item.
const errItemNotFound = 44

func secretGet(service, account string) (string, bool, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == errItemNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading keychain item %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

func secretSet(service, account, value string) error {
	// -U updates an existing item in place.
	out, err := exec.Command(
		"security", "add-generic-password",
		"-U",
		"-s", service,
		"-a", account,
		"-w", value,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("writing keychain item: %w, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func secretDelete(service, account string) error {
	err := exec.Command("security", "delete-generic-password", "-s", service, "-a", account).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errItemNotFound {
		return nil
	}
	return err
}
