// Package database opens the SQLite database that stores script execution
// history and applies its schema migrations.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are pairs of files named YYYYMMDD_HHMMSS_description.up.sql and
// .down.sql, applied in version order, each in its own transaction. The
// applied versions are tracked in the schema_migrations table.
//
// The connection pool holds a single connection: SQLite has one writer, and
// WAL mode keeps readers unblocked.
package database
