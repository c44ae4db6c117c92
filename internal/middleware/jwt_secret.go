package middleware

import (
	"fmt"
	"strings"

	"github.com/catstream/edge-metrics-go/internal/config"
)

func requiredJWTSecret() ([]byte, error) {
	if config.Cfg == nil {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	secret := strings.TrimSpace(config.Cfg.Security.JWTSecret)
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return []byte(secret), nil
}

func configuredIssuer() string {
	if config.Cfg == nil {
		return ""
	}
	return strings.TrimSpace(config.Cfg.Security.JWTIssuer)
}
