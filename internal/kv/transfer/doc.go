// Package transfer moves key/value data in bulk.
//
// Overview
//
// The Engine enumerates a namespace's keys, reads every value concurrently
// and writes the result somewhere else:
//
//	Namespace (remote)
//	     ├── ListKeys      cursor-paged key entries
//	     └── FetchValues   one value read per key, bounded fan-out
//	                              ↓
//	                           []kv.Pair
//	                              ↓
//	     ┌────────────────┬───────┴────────┬────────────────┐
//	   Copy             Dump          DumpSnapshot        Clear
//	 (bulk upsert)  (file per key)   (SQLite file)    (bulk delete)
//
// Restore and RestoreSnapshot run the same pipeline backwards.
//
// Concurrency
//
// Value reads and dump file writes run on an errgroup limited to
// Config.Concurrency. Every operation is fail-fast: the first error cancels
// the group's context, in-flight siblings observe the cancellation, and the
// error is returned alone. No partial result is ever returned.
//
// Dump Files
//
// A dump directory holds one file per key. The file name is the key name
// passed through EscapeFilename, and the contents are the value bytes as
// stored. Expirations and metadata are not kept in directory dumps; use a
// snapshot file for a lossless copy.
//
// Usage
//
//	dir := namespace.New(client, nil)
//	engine := transfer.New(client, dir, &transfer.Config{Concurrency: 16})
//
//	res, err := engine.Copy(ctx, "production", "staging")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("copied %d keys\n", res.Keys)
package transfer
