// Package dataset reads RGB-D sequences in the TUM benchmark layout: a
// directory with rgb.txt and depth.txt index files (one "timestamp path" per
// line, '#' comments) and an optional groundtruth.txt trajectory.
//
// Colour and depth frames are associated by nearest timestamp. Every path
// taken from an index file is validated to stay inside the sequence
// directory.
package dataset
