// Package l4perception owns Layer 4 (Perception) of the ring filter data
// model.
//
// Responsibilities: the filtered point representation (Point, Cloud), ring
// decimation of raw scans and voxel-grid downsampling.
// Key types: Point, Cloud.
//
// Dependency rule: L4 may depend on L2, but never on the pipeline or any
// transport package. Functions here are pure: they never mutate their
// input and always return a newly constructed Cloud.
package l4perception
