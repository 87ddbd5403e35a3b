package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"parcelhub/internal/common"
	"parcelhub/internal/observability"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

const (
	keyringService = "parcelhub"
	keyringPrefix  = "@keyring:"
)

// PromptFunc asks the operator for a secret
type PromptFunc func(message string) (string, error)

// SecureLoader reads the warehouse credentials file and resolves password
// references in it
type SecureLoader struct {
	// Project fills Credentials.Database when the file leaves it empty
	Project string
	Logger  *observability.Logger
	// Prompt is consulted for an empty password; nil disables prompting
	Prompt PromptFunc
}

// NewSecureLoader returns a loader that prompts only when stdin is a terminal
func NewSecureLoader(project string, logger *observability.Logger) *SecureLoader {
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	return &SecureLoader{Project: project, Logger: logger, Prompt: TerminalPrompt()}
}

// TerminalPrompt returns a survey password prompt, or nil when stdin is not
// interactive
func TerminalPrompt() PromptFunc {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil
	}
	return func(message string) (string, error) {
		var result string
		err := survey.AskOne(&survey.Password{Message: message}, &result)
		return result, err
	}
}

// Load parses the YAML credentials file at path. Password values may be
// plain text, ENC[...] or @keyring:<name>. Any failure is an authentication
// error.
func (l *SecureLoader) Load(path string) (warehouse.Credentials, error) {
	var creds warehouse.Credentials

	cleaned, err := common.CleanPath(path)
	if err != nil {
		return creds, errors.AuthError("Invalid credentials path", err).WithContext("path", path)
	}
	data, err := os.ReadFile(cleaned) // #nosec G304 - path is validated
	if err != nil {
		return creds, errors.AuthError("Cannot read credentials file", err).
			WithContext("path", cleaned).
			WithSuggestions("Set PARCELHUB_CREDENTIALS_PATH to the warehouse credentials YAML file")
	}
	if err := common.CheckSecretPermissions(cleaned); err != nil {
		l.Logger.WithField("path", cleaned).Warnf("Credentials file is readable by other users: %v", err)
	}

	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, errors.AuthError("Malformed credentials file", err).WithContext("path", cleaned)
	}

	creds.Driver = strings.ToLower(strings.TrimSpace(creds.Driver))
	if creds.Database == "" && creds.DSN == "" && creds.Driver != warehouse.DriverSQLite {
		creds.Database = l.Project
	}

	if creds.Password, err = l.resolvePassword(creds); err != nil {
		return creds, err
	}
	if err := creds.Validate(); err != nil {
		return creds, err
	}
	return creds, nil
}

func (l *SecureLoader) resolvePassword(creds warehouse.Credentials) (string, error) {
	pw := creds.Password
	switch {
	case IsEncrypted(pw):
		plain, err := DecryptPassword(pw)
		if err != nil {
			return "", errors.AuthError("Cannot decrypt warehouse password", err).
				WithSuggestions("Export the same " + EncryptionKeyEnv + " that was used to encrypt it")
		}
		return plain, nil

	case strings.HasPrefix(pw, keyringPrefix):
		name := strings.TrimPrefix(pw, keyringPrefix)
		secret, err := keyring.Get(keyringService, name)
		if err != nil {
			return "", errors.AuthError(fmt.Sprintf("Cannot read %q from the system keyring", name), err).
				WithContext("service", keyringService)
		}
		return secret, nil

	case pw == "" && creds.DSN == "" && needsPassword(creds.Driver) && l.Prompt != nil:
		secret, err := l.Prompt(fmt.Sprintf("Warehouse password for %s:", creds.User))
		if err != nil {
			return "", errors.AuthError("Password prompt failed", err)
		}
		return secret, nil
	}
	return pw, nil
}

func needsPassword(driver string) bool {
	return driver != warehouse.DriverSQLite
}

// StoreKeyringPassword saves secret under name in the system keyring, for use
// as @keyring:<name> in the credentials file
func StoreKeyringPassword(name, secret string) error {
	if err := keyring.Set(keyringService, name, secret); err != nil {
		return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to store password in the system keyring")
	}
	return nil
}
