package broadcast

import "github.com/benjaminclauss/stationboard/registry"

// Multi publishes each snapshot to every publisher in order.
type Multi []registry.Publisher

func (m Multi) Publish(s registry.Snapshot) {
	for _, p := range m {
		p.Publish(s)
	}
}
