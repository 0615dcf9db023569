// Package pipeline runs the ring filter node.
//
// It is the composition root for the filter: it subscribes to points_raw
// and config/ring_filter on the in-process bus, drives ringfilter.Filter
// one scan at a time and publishes filtered_points and points_filter_info.
// Layer packages (l2frames, l4perception, ringfilter) never import it.
package pipeline
