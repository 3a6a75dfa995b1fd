package virtualize

// Trace event types, in the order a healthy bootstrap emits them.
const (
	EventResolveStart = "resolve_start"
	EventStoreHit     = "store_hit"
	EventNetworkFetch = "network_fetch"
	EventAlias        = "alias"
	EventResolved     = "resolved"
	EventFailed       = "failed"
	EventTableInstall = "table_install"
	EventEntryImport  = "entry_import"
)

// TraceEvent records one step of a resolution. Events are stamped with a
// strictly increasing seq from the table's Clock, so a trace orders
// deterministically even when resolutions ran concurrently.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	VirtualID string `json:"virtual_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
