package profile

import (
	"os"

	"github.com/matheus3301/portalchat/internal/config"
)

const DefaultName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. $PORTALCHAT_PROFILE
// 3. config.toml default_profile
// 4. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(config.EnvProfile); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

// Select loads the global .env file and then resolves and validates the
// profile name, so a PORTALCHAT_PROFILE set only in .env is honoured.
func Select(flagOverride string) (string, error) {
	if err := config.LoadEnvFile(EnvFilePath()); err != nil {
		return "", err
	}
	name := Resolve(flagOverride)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
