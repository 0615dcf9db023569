// Package ringfilter implements the per-scan decimation pipeline: ring
// decimation followed by voxel-grid downsampling, with the shared runtime
// configuration and the metrics reported for every scan.
//
// The package holds no transport code. pipeline.Node feeds it scans and
// config updates from the bus; Filter.Process is a pure function of the
// scan, the current FilterConfig snapshot and the ring tracker.
package ringfilter
