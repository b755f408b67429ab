// Package database provides the SQLite connection used for the device
// snapshot and state history.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
