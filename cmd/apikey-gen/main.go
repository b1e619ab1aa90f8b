package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"keygate.backend/internal/config"
	"keygate.backend/internal/domain/entities"
	"keygate.backend/internal/infrastructure/datasources/postgres"
	"keygate.backend/internal/infrastructure/datasources/sqlite"
	"keygate.backend/internal/infrastructure/legacy"
	"keygate.backend/internal/infrastructure/models"
	"keygate.backend/internal/infrastructure/repositories"
	"keygate.backend/internal/usecases"
	"keygate.backend/pkg/crypto"
	"keygate.backend/pkg/utils"
)

const (
	usage = "usage: apikey-gen create|list|revoke|migrate [flags]"

	migratedKeyName = "Migrated legacy key"
)

var (
	openPostgres   = postgres.NewConnection
	openSQLite     = sqlite.NewConnection
	loadLegacyFile = legacy.LoadFile
	nowFn          = time.Now
)

type keyAdminRuntime interface {
	CreateApiKey(ctx context.Context, input *entities.CreateApiKeyInput, clientIP, userAgent string) (*entities.CreateApiKeyResponse, error)
	ListApiKeys(ctx context.Context, input *entities.ListApiKeysInput) (*usecases.ApiKeyListResponse, error)
	DeactivateApiKey(ctx context.Context, id uuid.UUID, reason string) error
}

type keyAdminDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	prepare func(cfg *config.Config) (keyAdminRuntime, io.Closer, error)
	out     io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func defaultKeyAdminDeps() keyAdminDeps {
	return keyAdminDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		prepare: prepareRuntime,
		out:     os.Stdout,
	}
}

// prepareRuntime opens the configured database and builds the key usecase
// without a cache, so every command reads the store directly.
func prepareRuntime(cfg *config.Config) (keyAdminRuntime, io.Closer, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case config.DBDriverSQLite:
		db, err = openSQLite(cfg.Database.SQLitePath)
	case config.DBDriverPostgres:
		db, err = openPostgres(cfg.Database)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect db: %w", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init sql db: %w", err)
	}

	hasher := crypto.NewHasher(crypto.Argon2Params{
		Time:      cfg.Hash.Time,
		MemoryKiB: cfg.Hash.MemoryKiB,
		Threads:   cfg.Hash.Threads,
	})
	credentials := repositories.NewCredentialRepository(
		repositories.NewApiKeyRepository(db),
		repositories.NewRateLimitRepository(db),
		repositories.NewAuditLogRepository(db),
		repositories.NewUnitOfWork(db),
		hasher,
	)
	return usecases.NewApiKeyUsecase(credentials, nil, usecases.RateLimitStatus{}), sqlDB, nil
}

func parsePermissions(raw string) []string {
	var perms []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}

func runKeyAdmin(args []string, deps keyAdminDeps) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	if deps.loadEnv == nil {
		deps.loadEnv = func() error { return godotenv.Load() }
	}
	if deps.loadCfg == nil {
		deps.loadCfg = config.Load
	}
	if deps.prepare == nil {
		deps.prepare = prepareRuntime
	}
	if deps.out == nil {
		deps.out = os.Stdout
	}

	command, rest := args[0], args[1:]
	fs := flag.NewFlagSet("apikey-gen "+command, flag.ContinueOnError)
	fs.SetOutput(deps.out)

	var (
		cfg *config.Config
		run func(ctx context.Context, rt keyAdminRuntime) error
	)
	switch command {
	case "create":
		name := fs.String("name", "", "key display name (required)")
		service := fs.String("service", "", "service the key is bound to (required)")
		perms := fs.String("permissions", entities.PermissionRead, "comma separated permissions")
		days := fs.Int("expires-in-days", 0, "expiry in days, 0 for none")
		run = func(ctx context.Context, rt keyAdminRuntime) error {
			if *name == "" || *service == "" {
				return errors.New("--name and --service are required")
			}
			input := &entities.CreateApiKeyInput{
				Name:        *name,
				Service:     *service,
				Permissions: parsePermissions(*perms),
			}
			if *days != 0 {
				input.ExpiresInDays = days
			}
			resp, err := rt.CreateApiKey(ctx, input, "", "apikey-gen")
			if err != nil {
				return fmt.Errorf("failed creating api key: %w", err)
			}
			_, _ = fmt.Fprintln(deps.out, "Created API key and stored in DB")
			_, _ = fmt.Fprintf(deps.out, "api_key_id=%s\n", resp.ID.String())
			_, _ = fmt.Fprintf(deps.out, "name=%s\n", resp.Name)
			_, _ = fmt.Fprintf(deps.out, "service=%s\n", resp.Service)
			_, _ = fmt.Fprintf(deps.out, "permissions=%s\n", strings.Join(resp.Permissions, ","))
			if resp.ExpiresAt != nil {
				_, _ = fmt.Fprintf(deps.out, "expires_at=%s\n", resp.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			_, _ = fmt.Fprintf(deps.out, "API_KEY=%s\n", resp.ApiKey)
			_, _ = fmt.Fprintln(deps.out, resp.Message)
			return nil
		}
	case "list":
		service := fs.String("service", "", "only keys of this service")
		all := fs.Bool("all", false, "include revoked keys")
		run = func(ctx context.Context, rt keyAdminRuntime) error {
			resp, err := rt.ListApiKeys(ctx, &entities.ListApiKeysInput{Service: *service, ActiveOnly: !*all})
			if err != nil {
				return fmt.Errorf("failed listing api keys: %w", err)
			}
			for _, k := range resp.Keys {
				status := "active"
				if !k.IsActive {
					status = "revoked"
				}
				_, _ = fmt.Fprintf(deps.out, "%s\t%s\t%s\t%s\t%s\tused=%d\n",
					k.ID, k.KeyPrefix, k.Service, k.Name, status, k.UsageCount)
			}
			_, _ = fmt.Fprintf(deps.out, "total=%d\n", resp.Pagination.TotalCount)
			return nil
		}
	case "revoke":
		id := fs.String("id", "", "key id (required)")
		reason := fs.String("reason", "", "revocation reason")
		run = func(ctx context.Context, rt keyAdminRuntime) error {
			keyID, err := utils.ParseKeyID(*id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			if err := rt.DeactivateApiKey(ctx, keyID, *reason); err != nil {
				return fmt.Errorf("failed revoking api key: %w", err)
			}
			_, _ = fmt.Fprintf(deps.out, "Revoked API key %s\n", keyID)
			return nil
		}
	case "migrate":
		file := fs.String("file", "", "legacy JSON key file (default LEGACY_API_KEY_FILE)")
		report := fs.String("out", "", "also write the new keys to this JSON file")
		run = func(ctx context.Context, rt keyAdminRuntime) error {
			path := *file
			if path == "" {
				path = cfg.Legacy.File
			}
			return migrateLegacyKeys(ctx, rt, path, *report, deps.out)
		}
	default:
		return fmt.Errorf("unknown command %q, %s", command, usage)
	}

	if err := fs.Parse(rest); err != nil {
		return err
	}

	if err := deps.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg = deps.loadCfg()
	runtime, closer, err := deps.prepare(cfg)
	if err != nil {
		return err
	}
	if closer == nil {
		closer = nopCloser{}
	}
	defer closer.Close()

	return run(context.Background(), runtime)
}

type migratedKey struct {
	OldKey  string `json:"oldKey"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Service string `json:"service"`
	ApiKey  string `json:"apiKey"`
}

type migrationReport struct {
	MigratedAt time.Time     `json:"migratedAt"`
	Keys       []migratedKey `json:"keys"`
}

// migrateLegacyKeys issues a fresh hashed key for every active entry of the
// legacy key file. Old raw keys cannot be carried over, so each service has
// to be handed its new key.
func migrateLegacyKeys(ctx context.Context, rt keyAdminRuntime, path, reportPath string, out io.Writer) error {
	if path == "" {
		return errors.New("--file or LEGACY_API_KEY_FILE is required")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("legacy key file not found: %w", err)
	}
	entries, err := loadLegacyFile(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no legacy keys found in %s", path)
	}

	var (
		migrated        []migratedKey
		skipped, failed int
	)
	for _, e := range entries {
		if !e.IsActive {
			_, _ = fmt.Fprintf(out, "skipped inactive key name=%s service=%s\n", e.Name, e.Service)
			skipped++
			continue
		}
		name := e.Name
		if name == "" {
			name = migratedKeyName
		}
		resp, err := rt.CreateApiKey(ctx, &entities.CreateApiKeyInput{
			Name:        name,
			Service:     e.Service,
			Permissions: e.Permissions,
		}, "", "apikey-gen migrate")
		if err != nil {
			_, _ = fmt.Fprintf(out, "failed to migrate name=%s service=%s: %v\n", name, e.Service, err)
			failed++
			continue
		}
		k := migratedKey{
			OldKey:  entities.MaskRawKey(e.Key),
			ID:      resp.ID.String(),
			Name:    resp.Name,
			Service: resp.Service,
			ApiKey:  resp.ApiKey,
		}
		migrated = append(migrated, k)
		_, _ = fmt.Fprintf(out, "migrated name=%s service=%s old=%s id=%s\n", k.Name, k.Service, k.OldKey, k.ID)
		_, _ = fmt.Fprintf(out, "API_KEY=%s\n", k.ApiKey)
	}

	_, _ = fmt.Fprintf(out, "migrated=%d skipped=%d failed=%d total=%d\n", len(migrated), skipped, failed, len(entries))
	if len(migrated) > 0 {
		_, _ = fmt.Fprintln(out, "Old keys stop working once USE_LEGACY_API_KEYS=false. Distribute the new keys first.")
	}

	if reportPath != "" && len(migrated) > 0 {
		data, err := json.MarshalIndent(migrationReport{MigratedAt: nowFn().UTC(), Keys: migrated}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode migration report: %w", err)
		}
		if err := os.WriteFile(reportPath, data, 0o600); err != nil {
			return fmt.Errorf("failed to write migration report: %w", err)
		}
		_, _ = fmt.Fprintf(out, "report=%s\n", reportPath)
	}

	if failed > 0 {
		return fmt.Errorf("%d legacy keys failed to migrate", failed)
	}
	return nil
}

func main() {
	if err := runKeyAdmin(os.Args[1:], defaultKeyAdminDeps()); err != nil {
		log.Fatal(err)
	}
}
