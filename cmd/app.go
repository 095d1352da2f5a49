package cmd

import (
	"github.com/google/uuid"

	"github.com/sqlward/sqlward/internal/access"
	"github.com/sqlward/sqlward/internal/config"
	"github.com/sqlward/sqlward/internal/logging"
	"github.com/sqlward/sqlward/internal/resilience"
	"github.com/sqlward/sqlward/internal/schema"
)

// app holds the shared wiring every command needs: configuration,
// logger, schema model, permissions, and the per-client rate limiter.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	model   *schema.Model
	perms   *access.PermissionManager
	limiter *resilience.RateLimiter
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Logging)

	model, err := schema.Load(cfg.Schema.Path, cfg.Security.ScopingColumn)
	if err != nil {
		return nil, err
	}

	if model.Fallback {
		logger.Warn("schema file not found, using built-in fallback schema", map[string]interface{}{
			"path": cfg.Schema.Path,
		})
	}

	perms, err := access.NewPermissionManager(&cfg.Security)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		model:   model,
		perms:   perms,
		limiter: resilience.NewRateLimiter(cfg.Security.RateLimitPerMin),
	}, nil
}

// userContext builds the request identity for one command invocation.
func (a *app) userContext(role, scopingValue string) (*access.UserContext, error) {
	return a.perms.CreateUserContext(role, scopingValue, uuid.NewString())
}

// clientKey identifies a caller for rate limiting. Entity first so
// distinct entities never share a budget, role second so a role change
// does not reset it.
func clientKey(user *access.UserContext) string {
	if user.ScopingValue != "" {
		return user.ScopingValue + ":" + user.Role
	}

	return user.Role
}
