package pipeline

import (
	"fmt"

	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

// Controller is the handle external surfaces (HTTP, gRPC, serial console,
// tuning file watcher) use to read and change the filter configuration.
// Updates travel over config/ring_filter like any other publisher's.
type Controller struct {
	rt    *Runtime
	state *ringfilter.ConfigState
}

// NewController returns a controller over the node's config state and topics.
func NewController(n *Node) *Controller {
	return &Controller{rt: n.rt, state: n.filter.State()}
}

// Current returns the configuration in effect.
func (c *Controller) Current() ringfilter.FilterConfig {
	return c.state.Load()
}

// Version counts the config replacements applied so far.
func (c *Controller) Version() uint64 {
	return c.state.Version()
}

// Submit publishes a full replacement configuration. It returns an error
// if the update could not be queued; the node applies it asynchronously.
func (c *Controller) Submit(cfg ringfilter.FilterConfig, source string) error {
	delivered, err := c.rt.Config.Publish(ringfilter.ConfigUpdate{Config: cfg, Source: source})
	if err != nil {
		return fmt.Errorf("publish %s: %w", c.rt.Config.Name(), err)
	}
	if delivered == 0 {
		return fmt.Errorf("publish %s: no subscriber accepted the update", c.rt.Config.Name())
	}
	return nil
}
