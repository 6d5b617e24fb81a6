package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrations_SortsAndChecksums(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(migrationFS(map[string]string{
		"0002_more.up.sql":   "CREATE TABLE test_b (id INT);",
		"0002_more.down.sql": "DROP TABLE IF EXISTS test_b;",
		"0001_init.up.sql":   "CREATE TABLE test_a (id INT);",
		"0001_init.down.sql": "DROP TABLE IF EXISTS test_a;",
	}))
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].String() != "0001_init" || migrations[1].String() != "0002_more" {
		t.Fatalf("unexpected order: %s, %s", migrations[0], migrations[1])
	}
	if migrations[0].Checksum != checksum("CREATE TABLE test_a (id INT);") {
		t.Fatalf("checksum must cover the trimmed up script, got %s", migrations[0].Checksum)
	}
	if migrations[0].Checksum == migrations[1].Checksum {
		t.Fatal("different scripts must have different checksums")
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing down",
			files:   map[string]string{"0001_init.up.sql": "CREATE TABLE a (id INT);"},
			wantErr: "both up and down",
		},
		{
			name:    "invalid file name",
			files:   map[string]string{"not_a_migration.sql": "SELECT 1;"},
			wantErr: "invalid migration file name",
		},
		{
			name:    "empty body",
			files:   map[string]string{"0001_init.up.sql": "  \n", "0001_init.down.sql": "DROP TABLE a;"},
			wantErr: "empty",
		},
		{
			name: "name mismatch",
			files: map[string]string{
				"0001_init.up.sql":    "CREATE TABLE a (id INT);",
				"0001_other.down.sql": "DROP TABLE a;",
			},
			wantErr: "name mismatch",
		},
		{
			name:    "no files",
			files:   map[string]string{},
			wantErr: "migrations",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadMigrations(migrationFS(tc.files))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDetectDrift(t *testing.T) {
	t.Parallel()

	all := []migration{
		{MigrationInfo: MigrationInfo{Version: 1, Name: "core"}, Checksum: "aaa"},
		{MigrationInfo: MigrationInfo{Version: 2, Name: "outbox"}, Checksum: "bbb"},
		{MigrationInfo: MigrationInfo{Version: 3, Name: "pending"}, Checksum: "ccc"},
	}
	applied := map[int64]appliedMigration{
		1: {version: 1, checksum: "aaa"},
		2: {version: 2, checksum: "changed"},
	}

	drifted := detectDrift(all, applied)
	if len(drifted) != 1 || drifted[0].Version != 2 {
		t.Fatalf("expected only version 2 to drift, got %v", drifted)
	}

	applied[2] = appliedMigration{version: 2}
	if drifted := detectDrift(all, applied); len(drifted) != 0 {
		t.Fatalf("rows without checksum must not be reported, got %v", drifted)
	}
}

func TestEmbeddedMigrations_AreComplete(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0].UpSQL, "customer_abuse_tracking") {
		t.Fatal("core migration must create customer_abuse_tracking")
	}
	if !strings.Contains(migrations[1].UpSQL, "idempotency_keys") {
		t.Fatal("second migration must create idempotency_keys")
	}
}
