// Package l2frames owns Layer 2 (Frames) of the ring filter data model.
//
// Responsibilities: the raw scan representation handed to the filter
// (Header, RingPoint, Scan), assembling complete scans from chunked
// datagrams, and a synthetic scan source for running without a sensor.
//
// Dependency rule: L2 may depend on L1 (parse is the exception: parse
// depends on L2 types because the wire format carries them directly).
package l2frames
