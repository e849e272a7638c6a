// Package sample defines the Sample record captured in the field and the
// rules a record must satisfy before it may enter the local pending queue.
//
// # Lifecycle
//
// A Sample is created by the capture flow with SyncState = pending, an ID
// generated once by NewID and a SampleNumber handed out by the allocator.
// After that only the sync engine mutates it, moving it between pending,
// synced and failed:
//
//	pending ──upsert ok──▶ synced
//	   │                     ▲
//	   └──upsert error──▶ failed ──upsert ok (next pass)
//
// The ID doubles as the idempotency key of the remote upsert, so it must
// never be regenerated, not even on retry.
//
// # Numeric fields
//
// Weights, prices and temperatures are decimal.NullDecimal values so they
// round-trip through the local and remote stores without float drift.
package sample
