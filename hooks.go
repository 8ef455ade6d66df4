package offlinecache

import "github.com/unkn0wn-root/offlinecache/cachestore"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the worker calls them on
// the request path. Hooks also satisfies cachestore.Hooks, so one value can
// be handed to both layers.
type Hooks interface {
	cachestore.Hooks

	// A manifest asset was not stored during install.
	// reason ∈ {"network", "status", "redirected", "path_mismatch", "not_cacheable", "store"}
	PrecacheSkipped(url, reason string)

	// A failed mutation was queued for replay.
	OperationQueued(id int64, method, url string)

	// A replayed operation got a 2xx and was removed from the queue.
	OperationSynced(id int64, status int)

	// A replay failed; the operation stays queued. status is 0 on a
	// transport error.
	OperationSyncFailed(id int64, status int, err error)

	// A request could not be served from the network.
	// source ∈ {"runtime", "precache", "offline_page", "icon", "unavailable"}
	ServedFallback(url, source string)

	// A partition was deleted during activation.
	PartitionPurged(name string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) SetRejected(string)                    {}
func (NopHooks) PrecacheSkipped(string, string)        {}
func (NopHooks) OperationQueued(int64, string, string) {}
func (NopHooks) OperationSynced(int64, int)            {}
func (NopHooks) OperationSyncFailed(int64, int, error) {}
func (NopHooks) ServedFallback(string, string)         {}
func (NopHooks) PartitionPurged(string)                {}
