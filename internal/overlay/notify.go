package overlay

// NotifyKind names an overlay notification.
type NotifyKind string

const (
	// NotifyLoad fires once, when the first image becomes visible.
	NotifyLoad NotifyKind = "load"
	// NotifyRequest fires when a pending image is requested.
	NotifyRequest NotifyKind = "request"
	// NotifySwap fires whenever a pending image replaces the displayed one.
	NotifySwap NotifyKind = "swap"
	// NotifySuperseded fires when a refresh replaces an outstanding pending image.
	NotifySuperseded NotifyKind = "superseded"
	// NotifyStale fires when a superseded load completes and is ignored.
	NotifyStale NotifyKind = "stale"
	// NotifyFailed fires when the pending image fails to load.
	NotifyFailed NotifyKind = "failed"
)

// Notification describes an overlay lifecycle step.
type Notification struct {
	Kind       NotifyKind `json:"kind"`
	Generation uint64     `json:"generation"`
	URL        string     `json:"url,omitempty"`
	Err        error      `json:"-"`
}
