package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/vending/config"
	"github.com/rl1809/vending/internal/adapter/storage"
	"github.com/rl1809/vending/internal/core/service"
	"github.com/rl1809/vending/internal/port"
)

func main() {
	conf := config.CreateNewConfig()

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(conf.LogLevel)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if conf.MySQLConfig.DSN == "" {
		log.Fatal().Msg("MYSQL_DSN is required to seed")
	}
	db, err := storage.OpenMySQL(ctx, conf.MySQLConfig.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	defer db.Close()

	repo := storage.NewMySQLAdapter(db)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate mysql")
	}

	var cache port.ListingCache = storage.NewMemoryCache()
	if conf.RedisConfig.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.RedisConfig.Addr,
			Password: conf.RedisConfig.Password,
			DB:       conf.RedisConfig.DB,
		})
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
	}

	products := service.NewProductService(repo, cache, conf.CacheTTL, conf.PageSize)
	created, err := products.Seed(ctx, service.InitialProducts())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed products")
	}
	log.Info().Int("created", created).Msg("products seeded")

	username, password := os.Getenv("SEED_ADMIN_USERNAME"), os.Getenv("SEED_ADMIN_PASSWORD")
	if username == "" || password == "" {
		return
	}
	auth := service.NewAuthService(repo, conf.JWTSecret, conf.JWTTTL)
	_, _, err = auth.Signup(ctx, service.SignupInput{
		Username: username,
		Password: password,
		Email:    os.Getenv("SEED_ADMIN_EMAIL"),
		IsStaff:  true,
	})
	switch {
	case errors.Is(err, service.ErrUserExists):
		log.Info().Str("username", username).Msg("admin user already exists")
	case err != nil:
		log.Fatal().Err(err).Msg("failed to create admin user")
	default:
		log.Info().Str("username", username).Msg("admin user created")
	}
}
