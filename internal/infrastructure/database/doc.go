// Package database provides the SQLite store behind the command audit log.
//
// Open configures WAL mode and a busy timeout and limits the pool to a
// single connection, since SQLite has one writer. Schema changes live as
// YYYYMMDD_HHMMSS_name.up.sql files in an fs.FS handed over in
// Config.Migrations (the migrations package embeds the bridge's own).
// Other files, .down.sql included, are skipped:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    cfg.Database.WALMode,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive and forward only. New columns must be nullable
// or carry a default.
// All queries use parameterised statements and the database file is
// created with mode 0600.
package database
