package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/unilib/unilib/internal/blobstore"
	bookhandler "github.com/unilib/unilib/internal/book/handler"
	bookrepo "github.com/unilib/unilib/internal/book/repository"
	bookservice "github.com/unilib/unilib/internal/book/service"
	"github.com/unilib/unilib/internal/config"
	"github.com/unilib/unilib/internal/database"
	"github.com/unilib/unilib/internal/department"
	"github.com/unilib/unilib/internal/oidc"
	"github.com/unilib/unilib/internal/tokens"
	"github.com/unilib/unilib/internal/users"
	"github.com/unilib/unilib/pkg/logger"
	"github.com/unilib/unilib/pkg/metrics"
	"github.com/unilib/unilib/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging level is controlled with LOG_LEVEL (debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v storage=%s",
		cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Storage.Backend)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	ctx := context.Background()

	// Connect to Redis early so the rate limiter can use it when configured
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// MongoDB holds the catalog, users, departments and (by default) the chunk
	// store, so startup fails hard when it never comes up. Retry with backoff
	// to tolerate container startup races.
	var client *mongo.Client
	{
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			client, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Fatalf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		}
	}
	defer func() { _ = client.Disconnect(ctx) }()
	db := client.Database(cfg.MongoDB.Database)

	// chunk-store backend: Mongo bucket by default, MinIO when configured
	var store blobstore.Store
	switch strings.ToLower(cfg.Storage.Backend) {
	case "", "mongo":
		store = blobstore.NewMongoStore(db, "uploads")
	case "minio":
		store, err = blobstore.NewMinIOStore(&blobstore.MinIOConfig{
			Endpoint:  cfg.Storage.MinIOEndpoint,
			AccessKey: cfg.Storage.MinIOAccessKey,
			SecretKey: cfg.Storage.MinIOSecretKey,
			UseSSL:    cfg.Storage.MinIOUseSSL,
			Bucket:    cfg.Storage.MinIOBucket,
		})
		if err != nil {
			logger.Fatalf("failed to initialize MinIO store: %v", err)
		}
	default:
		logger.Fatalf("unknown storage backend %q", cfg.Storage.Backend)
	}

	userSvc := users.NewService(users.NewMongoUserRepository(db.Collection("users")))
	deptSvc := department.NewService(department.NewMongoRepository(db.Collection("departments")))
	if err := deptSvc.Seed(ctx); err != nil {
		logger.Warnf("seeding departments failed: %v", err)
	}
	bookSvc := bookservice.New(bookrepo.NewMongoRepo(db.Collection("books")), store, deptSvc, userSvc, cfg.Upload.MaxFileSize)

	// token verification: Keycloak OIDC when configured, locally signed HS256
	// tokens otherwise
	var verifier middleware.Verifier
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" && cfg.Keycloak.Realm != "" {
		issuer := strings.TrimRight(cfg.Keycloak.URL, "/") + "/realms/" + cfg.Keycloak.Realm
		ver, err := oidc.NewVerifier(ctx, issuer, cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
			logger.Infof("using Keycloak OIDC verifier (issuer %s)", issuer)
		}
	}
	if verifier == nil {
		if cfg.JWT.Secret == "" {
			logger.Fatalf("no token verifier available: configure Keycloak or set JWT_SECRET")
		}
		verifier = tokens.NewHS256Verifier(cfg.JWT.Secret)
		logger.Infof("using locally signed HS256 tokens")
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{"mongo": true, "redis": true}
		ready := true
		if err := client.Ping(c.Request.Context(), nil); err != nil {
			deps["mongo"] = false
			ready = false
		}
		if cfg.RateLimit.UseRedis && redisClient == nil {
			deps["redis"] = false
			ready = false
		}
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	authed := r.Group("/api")
	authed.Use(middleware.AuthMiddleware(verifier))
	bookhandler.New(bookSvc).RegisterRoutes(authed)
	department.RegisterRoutes(authed, deptSvc, bookSvc)

	authed.GET("/me", func(c *gin.Context) {
		claims, _ := c.Get("claims")
		if cm, ok := claims.(map[string]interface{}); ok {
			u, err := userSvc.UpsertFromClaims(c.Request.Context(), cm)
			if err == nil && u != nil {
				c.JSON(http.StatusOK, gin.H{"user": u})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"claims": claims})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting library service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
