// Package store provides the request ledger for flyme using SQLite.
//
// # Overview
//
// The ledger records metadata about every handled search request and the
// token usage of the agent runs behind it. It never stores message text:
// rows hold identifiers, the classified intent, the outcome kind, sizes and
// timings only. Conversation history itself lives in memory (see package
// conversation) and is not persisted.
//
// # Tables
//
//   - requests: one row per handled request (router.Outcome)
//   - agent_usage: one row per agent run (agent.Usage), joined to requests by request_id
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// The path ":memory:" opens a private in-memory database, useful in tests.
//
// # Usage
//
//	ledger, err := store.NewSQLiteStore("/var/lib/flyme/ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer ledger.Close()
//
//	observer := store.NewObserver(ledger, logger)
//	// pass observer to router.Options.Observers and
//	// observer.RecordUsage to agent.RunnerConfig.OnUsage
package store
