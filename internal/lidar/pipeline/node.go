package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/timeutil"
)

// subscriberID is the id the node registers on its input topics.
const subscriberID = "ring_filter"

// ConfigChange records one applied config update.
type ConfigChange struct {
	Source    string                  `json:"source"`
	Requested ringfilter.FilterConfig `json:"requested"`
	Previous  ringfilter.FilterConfig `json:"previous"`
	Applied   ringfilter.FilterConfig `json:"applied"`
	Clamped   bool                    `json:"clamped"`
	Version   uint64                  `json:"version"`
	At        time.Time               `json:"at"`
}

// ConfigObserver is notified after every applied config change. Observers
// run on the config goroutine and must not block.
type ConfigObserver func(ConfigChange)

// NodeStats counts node activity since startup.
type NodeStats struct {
	ScansProcessed  uint64 `json:"scans_processed"`
	ConfigsApplied  uint64 `json:"configs_applied"`
	ConfigsClamped  uint64 `json:"configs_clamped"`
	OutputsNoReader uint64 `json:"outputs_without_subscriber"`
}

// Node wires a Filter to the bus topics of a Runtime.
type Node struct {
	rt     *Runtime
	filter *ringfilter.Filter
	clock  timeutil.Clock

	obsMu     sync.RWMutex
	observers []ConfigObserver

	scans      atomic.Uint64
	configs    atomic.Uint64
	clamped    atomic.Uint64
	unreadOuts atomic.Uint64
}

// NewNode returns a node. A nil clock uses the wall clock.
func NewNode(rt *Runtime, filter *ringfilter.Filter, clock timeutil.Clock) *Node {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Node{rt: rt, filter: filter, clock: clock}
}

// Filter returns the filter driven by the node.
func (n *Node) Filter() *ringfilter.Filter { return n.filter }

// Runtime returns the node's topics.
func (n *Node) Runtime() *Runtime { return n.rt }

// OnConfig registers fn to be called after each applied config change.
func (n *Node) OnConfig(fn ConfigObserver) {
	n.obsMu.Lock()
	n.observers = append(n.observers, fn)
	n.obsMu.Unlock()
}

// Stats returns a snapshot of the node counters.
func (n *Node) Stats() NodeStats {
	return NodeStats{
		ScansProcessed:  n.scans.Load(),
		ConfigsApplied:  n.configs.Load(),
		ConfigsClamped:  n.clamped.Load(),
		OutputsNoReader: n.unreadOuts.Load(),
	}
}

// HandleScan filters one scan and publishes the filtered cloud and its
// metrics. Metrics are published for every scan, whether or not anyone
// subscribes to the cloud.
func (n *Node) HandleScan(scan l2frames.Scan) ringfilter.Result {
	res := n.filter.Process(scan)
	n.scans.Add(1)

	delivered, err := n.rt.Filtered.Publish(res.Output)
	if err != nil {
		diagf("filtered_points publish for seq=%d: %v", scan.Header.Seq, err)
	} else if delivered == 0 {
		n.unreadOuts.Add(1)
	}
	if _, err := n.rt.Info.Publish(res.Metrics); err != nil {
		diagf("points_filter_info publish for seq=%d: %v", scan.Header.Seq, err)
	}

	tracef("seq=%d frame=%s points %d -> %d -> %d rings %d/%d (%s)",
		scan.Header.Seq, scan.Header.FrameID,
		res.Metrics.OriginalPointCount, res.Metrics.DecimatedPointCount, res.Metrics.FilteredPointCount,
		res.Metrics.FilteredRingCount, res.Metrics.OriginalRingCount, res.Config)
	return res
}

// HandleConfig installs upd.Config as the filter configuration. A ring
// divisor below 1 is clamped to 1 and logged on the ops stream.
func (n *Node) HandleConfig(upd ringfilter.ConfigUpdate) ConfigChange {
	state := n.filter.State()
	prev, applied, clamped := state.Swap(upd.Config)

	change := ConfigChange{
		Source:    upd.Source,
		Requested: upd.Config,
		Previous:  prev,
		Applied:   applied,
		Clamped:   clamped,
		Version:   state.Version(),
		At:        n.clock.Now(),
	}
	n.configs.Add(1)
	if clamped {
		n.clamped.Add(1)
		opsf("config from %s: ring_div=%d is invalid, clamped to %d",
			sourceOrUnknown(upd.Source), upd.Config.RingDivisor, applied.RingDivisor)
	}
	diagf("config v%d from %s: %s -> %s", change.Version, sourceOrUnknown(upd.Source), prev, applied)

	n.obsMu.RLock()
	obs := n.observers
	n.obsMu.RUnlock()
	for _, fn := range obs {
		fn(change)
	}
	return change
}

// Run subscribes to points_raw and config/ring_filter and processes
// messages until ctx is cancelled or the raw topic is closed. Config
// updates are applied on their own goroutine, so they land between scans
// without waiting for the scan loop.
func (n *Node) Run(ctx context.Context) error {
	scans, err := n.rt.Raw.Subscribe(subscriberID, n.rt.Depths.Input)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.rt.Raw.Name(), err)
	}
	defer n.rt.Raw.Unsubscribe(subscriberID)

	configs, err := n.rt.Config.Subscribe(subscriberID, n.rt.Depths.Input)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.rt.Config.Name(), err)
	}
	defer n.rt.Config.Unsubscribe(subscriberID)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-configs:
				if !ok {
					return
				}
				n.HandleConfig(upd)
			}
		}
	}()

	diagf("node %s running with %s (ring count mode %s)",
		n.rt.SensorID, n.filter.State().Load(), n.filter.Mode())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-scans:
			if !ok {
				return nil
			}
			n.HandleScan(scan)
		}
	}
}

func sourceOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
