// Package sync pushes locally captured samples to the remote store.
//
// # Overview
//
// A sync pass is a single synchronous call, Engine.SyncPending. Retrying is
// the caller's business: the daemon invokes a pass on a timer and whenever
// the network status changes. A pass never loops or sleeps internally.
//
//	Local store (pending, failed)
//	     │  oldest capture first
//	     ▼
//	  Engine ──► Gate: trusted network?
//	     │            no  → skipped_not_eligible, nothing sent
//	     ▼
//	  Remote.Upsert(id) ──► synced  (received_at_utc stored locally)
//	                   └──► failed  (reason + transient/permanent)
//
// # Guarantees
//
//   - One pass at a time per store. An overlapping call on the same Engine,
//     or on another Engine (another process) sharing the store file,
//     returns ErrSyncInProgress without touching any sample. Across
//     processes this rests on the store's sync lease (Leaser).
//   - An outcome is recorded only against the revision that was sent. A
//     sample edited during its upsert stays pending and goes out again.
//   - The remote write is keyed on the immutable sample id, so running a
//     pass again never creates a second row.
//   - A failure on one record is recorded on that record and the pass moves
//     on. Only local store errors end a pass early.
//   - Each remote write is bounded by Config.RecordTimeout.
//   - If the context is cancelled mid-pass, records already synced stay
//     synced, the in-flight record is marked failed and the rest are left
//     pending.
//
// # Usage
//
//	engine := sync.New(localDB, remoteStore, gate, nil)
//	report, err := engine.SyncPending(ctx)
//	if err != nil {
//	    return err // local store failure or cancellation
//	}
//	fmt.Println(report.Summary())
package sync
