// Package migrate moves an installation from the JSON document backend to SQLite.
//
// # State Machine
//
//	CHECK_SOURCE -> CHECK_DESTINATION -> COPY -> BACKUP_AND_CLEAR -> DONE
//	      |                |               \             \
//	   SKIPPED          SKIPPED           FAILED        FAILED
//
// The destination gate is per collection. A collection is copied only when it
// has records in the source and none in the destination, so a run where
// channel is already populated in SQLite but tools still has source records
// ends DONE, not SKIPPED. A run is SKIPPED only when no collection is copied
// or cleared.
//
// A populated collection whose source ids are all present in the destination
// was copied by an earlier run that stopped before clearing. It is backed up
// and cleared with the collections copied in the current run. A collection
// populated some other way is left alone on both sides.
//
// # Safety
//
// The source is never modified until a backup snapshot has been written to the
// backup directory and verified. Only collections copied in the current run,
// or proven copied by an earlier one, are cleared. Failures leave both stores
// as they are; nothing is rolled back.
//
// # Startup
//
// Open is called once when the plugin starts. It returns the authoritative
// backend even when migration fails, so the bot keeps running on SQLite.
package migrate
