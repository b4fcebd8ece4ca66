// Package store provides the relational backing store and its transactions.
//
// The store executes dal statements against database/sql. It hides the
// differences between dialects that the statement tree cannot express:
//   - Sequences: on SQLite and MySQL, sequence values are allocated from
//     the SEQUENCE table inside the calling transaction
//   - Returning: on MySQL, returned columns are synthesized from the bound
//     values of the statement
//   - Savepoints and sub-transactions: named with ULIDs, retried a bounded
//     number of times
//   - Unique violations: classified per driver so callers can recover from
//     insert races
//
// # Transactions
//
// Every unit of work runs in one Txn. Hooks registered with PostCommit run
// after a successful commit and never before; hooks registered with
// PostAbort run after a rollback. Cache invalidation is always a
// post-commit hook.
//
// # Database Configuration
//
// SQLite databases are opened with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The SQLite schema is embedded (schema.sql) and versioned with
// PRAGMA user_version. MySQL schemas are provisioned externally.
package store
