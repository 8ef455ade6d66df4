// Package offlinecache is the offline layer of the lots inventory web app.
//
// A Worker sits between page scripts and the origin and owns two cache
// partitions (precache and runtime, both suffixed with the asset version)
// plus a durable queue of mutations that could not reach the network.
//
// Components:
//   - cachestore.Storage: named partitions of response snapshots.
//   - localdb.Store: pending operations, mirrored lots, log entries.
//   - fetch.Fetcher: the network.
//
// Routing (one table, see RouteTable):
//
//	POST/PUT/PATCH/DELETE  network, queue on failure -> {"offline":true,"saved":true}
//	navigation             network-first, runtime -> precache -> offline page -> 503
//	everything else        cache-first (runtime), image -> icon, else offline page -> 504
//
// Lifecycle:
//
//	w.Install(ctx)  // precache the manifest, settle-all
//	w.Activate(ctx) // purge other partitions, claim clients
//
// Platform events can also be delivered as values through Worker.Dispatch.
package offlinecache
