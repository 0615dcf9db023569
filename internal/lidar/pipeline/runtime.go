package pipeline

import (
	"github.com/banshee-data/ringfilter/internal/lidar/bus"
	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

// Depths sets the subscriber buffer depth used for each topic.
type Depths struct {
	Input   int // points_raw and config/ring_filter
	Output  int // filtered_points
	Metrics int // points_filter_info
}

// DefaultDepths mirrors the queue sizes of the ROS node the filter
// replaces.
func DefaultDepths() Depths {
	return Depths{
		Input:   bus.DefaultInputDepth,
		Output:  bus.DefaultOutputDepth,
		Metrics: bus.DefaultMetricsDepth,
	}
}

// Runtime bundles the topics of one sensor. Passing a Runtime through
// constructors keeps wiring explicit and lets tests build an isolated bus.
type Runtime struct {
	SensorID string
	Depths   Depths

	Raw      *bus.Topic[l2frames.Scan]
	Filtered *bus.Topic[ringfilter.FilteredCloud]
	Info     *bus.Topic[ringfilter.ScanMetrics]
	Config   *bus.Topic[ringfilter.ConfigUpdate]
}

// NewRuntime creates the four topics of the filter node.
func NewRuntime(sensorID string, depths Depths) *Runtime {
	if depths.Input < 1 {
		depths.Input = bus.DefaultInputDepth
	}
	if depths.Output < 1 {
		depths.Output = bus.DefaultOutputDepth
	}
	if depths.Metrics < 1 {
		depths.Metrics = bus.DefaultMetricsDepth
	}
	return &Runtime{
		SensorID: sensorID,
		Depths:   depths,
		Raw:      bus.NewTopic[l2frames.Scan](bus.TopicPointsRaw),
		Filtered: bus.NewTopic[ringfilter.FilteredCloud](bus.TopicFilteredPoints),
		Info:     bus.NewTopic[ringfilter.ScanMetrics](bus.TopicFilterInfo),
		Config:   bus.NewTopic[ringfilter.ConfigUpdate](bus.TopicConfig),
	}
}

// Stats returns the counters of every topic, keyed by topic name.
func (rt *Runtime) Stats() map[string]bus.Stats {
	return map[string]bus.Stats{
		rt.Raw.Name():      rt.Raw.Stats(),
		rt.Filtered.Name(): rt.Filtered.Stats(),
		rt.Info.Name():     rt.Info.Stats(),
		rt.Config.Name():   rt.Config.Stats(),
	}
}

// Close closes all topics, which ends every subscriber loop.
func (rt *Runtime) Close() {
	rt.Raw.Close()
	rt.Filtered.Close()
	rt.Info.Close()
	rt.Config.Close()
}
