package seed

import (
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/config"
	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	"github.com/opencafe/pointsd/internal/migration"
	tokendomain "github.com/opencafe/pointsd/internal/token/domain"
)

func openSeedDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "seed.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migration.RunMigrations(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func TestEnsureAdminTokenMintsOnce(t *testing.T) {
	db := openSeedDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	if err := EnsureAdminToken(db, config.Config{}, zap.NewNop(), node); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := EnsureAdminToken(db, config.Config{}, zap.NewNop(), node); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	if err := db.Model(&tokendomain.APIToken{}).Count(&count).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 1 {
		t.Fatalf("tokens = %d, want exactly 1", count)
	}
}

func TestEnsureAdminTokenFromConfig(t *testing.T) {
	db := openSeedDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	bootstrapID := node.Generate()
	cfg := config.Config{
		BootstrapAdminToken: tokendomain.Format(bootstrapID, "configured-secret"),
	}
	if err := EnsureAdminToken(db, cfg, zap.NewNop(), node); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var record tokendomain.APIToken
	if err := db.First(&record, "id = ?", bootstrapID).Error; err != nil {
		t.Fatalf("configured token not stored: %v", err)
	}
	if record.Name != adminTokenName {
		t.Fatalf("name = %q, want %q", record.Name, adminTokenName)
	}
}

func TestEnsureAdminTokenRejectsMalformedConfig(t *testing.T) {
	db := openSeedDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	cfg := config.Config{BootstrapAdminToken: "not-a-token"}
	if err := EnsureAdminToken(db, cfg, zap.NewNop(), node); err == nil {
		t.Fatal("malformed bootstrap token accepted")
	}
}

func TestEnsureDemoUsers(t *testing.T) {
	db := openSeedDB(t)

	if err := EnsureDemoUsers(db, config.Config{Environment: "development"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := EnsureDemoUsers(db, config.Config{Environment: "development"}); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	if err := db.Model(&ledgerdomain.User{}).Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 3 {
		t.Fatalf("users = %d, want 3", count)
	}

	prod := openSeedDB(t)
	if err := EnsureDemoUsers(prod, config.Config{Environment: "production"}); err != nil {
		t.Fatalf("production seed: %v", err)
	}
	if err := prod.Model(&ledgerdomain.User{}).Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("production users = %d, want 0", count)
	}
}
