// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite databases Xuehua keeps locally,
// such as the artifact store's catalog.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with a fixed set of
// pragmas and a forward-only migration list. Callers either
// [Pool.Take] a connection and [Pool.Put] it back, or hand a callback
// to [Pool.Read] or [Pool.Write]. A connection is never shared between
// goroutines.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL, so readers do not block the single writer.
//   - synchronous=NORMAL. Commits survive a process crash but not
//     power loss. The catalog only indexes files that are already on
//     disk, so it can be rebuilt.
//   - busy_timeout=5000, to wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - foreign_keys=ON. Package names reference artifacts.
//   - temp_store=MEMORY.
//
// # Migrations
//
// [Config.Migrations] is a list of SQL scripts. Open compares the
// database's user_version with the list length and runs the missing
// scripts in one transaction.
//
//	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
//	    Path:       filepath.Join(root, "store.db"),
//	    Migrations: []string{schemaV1},
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
