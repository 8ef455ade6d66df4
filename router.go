package offlinecache

import (
	"net/http"
	"strings"

	"github.com/unkn0wn-root/offlinecache/fetch"
)

// Strategy is how a request is answered.
type Strategy int

const (
	// StrategyQueueOnFailure sends to the network; a transport failure queues
	// the request as a pending operation.
	StrategyQueueOnFailure Strategy = iota + 1
	// StrategyNetworkFirst prefers the network and falls back to the caches.
	StrategyNetworkFirst
	// StrategyCacheFirst answers from the runtime partition when it can.
	StrategyCacheFirst
)

func (s Strategy) String() string {
	switch s {
	case StrategyQueueOnFailure:
		return "queue_on_failure"
	case StrategyNetworkFirst:
		return "network_first"
	case StrategyCacheFirst:
		return "cache_first"
	default:
		return "unknown"
	}
}

// RouteTable classifies a request by method, then by destination.
type RouteTable struct {
	// Mutating methods (upper case) are always StrategyQueueOnFailure.
	Mutating map[string]struct{}
	// Destinations maps a destination to its strategy. Requests with
	// mode=navigate are looked up as fetch.DestDocument.
	Destinations map[fetch.Destination]Strategy
	// Default applies to everything else.
	Default Strategy
}

// DefaultRoutes: POST/PUT/PATCH/DELETE queue on failure, documents are
// network-first, everything else cache-first.
func DefaultRoutes() RouteTable {
	return RouteTable{
		Mutating: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		Destinations: map[fetch.Destination]Strategy{
			fetch.DestDocument: StrategyNetworkFirst,
		},
		Default: StrategyCacheFirst,
	}
}

// Route picks the strategy for req.
func (t RouteTable) Route(req fetch.Request) Strategy {
	if _, ok := t.Mutating[strings.ToUpper(req.Method)]; ok {
		return StrategyQueueOnFailure
	}
	dest := req.Destination
	if req.Mode == fetch.ModeNavigate {
		dest = fetch.DestDocument
	}
	if s, ok := t.Destinations[dest]; ok {
		return s
	}
	return coalesce(t.Default, StrategyCacheFirst)
}
