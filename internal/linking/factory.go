package linking

import (
	"fmt"
	"time"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
)

const defaultTimeout = 10 * time.Second

// NewLinkingFromConfig creates the linking service selected by cfg.Type.
func NewLinkingFromConfig(cfg config.LinkingConfig) (megadata.LinkingService, error) {
	switch cfg.Type {
	case "", "none":
		return None{}, nil
	case "static":
		return NewStatic(cfg.Static), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("linking: base_url required for http linking")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.Timeout.Or(defaultTimeout)), nil
	default:
		return nil, fmt.Errorf("unsupported linking type: %s", cfg.Type)
	}
}
