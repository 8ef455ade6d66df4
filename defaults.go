package offlinecache

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

const (
	DefaultVersion        = "v2.4.2"
	DefaultPrecachePrefix = "vf-precache"
	DefaultRuntimePrefix  = "vf-runtime"

	// SyncTag is the background sync tag that triggers a replay pass.
	SyncTag = "sync-pending-operations"

	defaultInstallConcurrency = 4
)

// DefaultAuthPaths are never stored in any partition.
func DefaultAuthPaths() []string {
	return []string{"/auth/login", "/auth/logout"}
}
