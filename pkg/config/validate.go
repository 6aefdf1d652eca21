package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for missing required fields and
// invalid values. Called by Load after defaults are applied; a failure
// here is fatal at startup.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				return fmt.Errorf("invalid field %s: failed %q constraint", fe.Namespace(), fe.Tag())
			}
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if len(cfg.Telegram.TokenList()) == 0 {
		return fmt.Errorf("telegram: at least one bot token is required")
	}

	return nil
}
