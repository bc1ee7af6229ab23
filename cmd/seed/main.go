// seed inserts the practice role catalogue and a development admin account.
// Idempotent: existing roles and grants are kept and the admin is skipped if
// admin@practice.test already exists in the dev practice.
package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"practice-portal/auth/internal/config"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/platform/logging"
	rbacrepo "practice-portal/auth/internal/rbac/repository"
	rbacservice "practice-portal/auth/internal/rbac/service"
	"practice-portal/auth/internal/security"
	userdomain "practice-portal/auth/internal/user/domain"
	userrepo "practice-portal/auth/internal/user/repository"
)

const (
	devOrgID      = "dev-practice-001"
	devAdminEmail = "admin@practice.test"
	devPassword   = "Password123!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "", "auth-seed")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.Env, "auth-seed")
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	resolver := rbacservice.NewResolver(rbacrepo.NewPostgresRepository(conn), users, time.Minute)
	if cfg.RedisURL != "" {
		// Running servers share these generations; bumping them drops their cached grants.
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		resolver.WithGenerations(rbacrepo.NewRedisGenerations(rdb, rbacrepo.DefaultGenerationPrefix))
	}

	if err := resolver.EnsureCatalog(ctx, rbacservice.PracticeCatalog); err != nil {
		log.Fatal().Err(err).Msg("seed roles")
	}
	log.Info().Int("roles", len(rbacservice.PracticeCatalog)).Msg("role catalogue applied")

	existing, err := users.GetByEmail(ctx, devOrgID, devAdminEmail)
	if err != nil {
		log.Fatal().Err(err).Msg("seed check")
	}
	if existing != nil {
		log.Info().Str("email", devAdminEmail).Msg("dev admin exists; skipping")
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash(devPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("hash password")
	}
	now := time.Now().UTC()
	admin := &userdomain.User{
		ID:              ids.NewID(),
		OrgID:           devOrgID,
		Email:           devAdminEmail,
		Name:            "Practice Admin",
		PasswordHash:    hash,
		Active:          true,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := users.Create(ctx, admin); err != nil {
		log.Fatal().Err(err).Msg("create dev admin")
	}
	if err := resolver.AssignRole(ctx, admin.ID, "practice_admin", devOrgID); err != nil {
		log.Fatal().Err(err).Msg("assign practice_admin")
	}
	log.Info().Str("email", devAdminEmail).Str("org_id", devOrgID).Msg("dev admin created")
}
