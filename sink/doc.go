// Package sink holds Delivery Sink implementations for the monitor pipeline:
// a pcap writer with radiotap headers, a logging sink, a fan-out and a
// bounded backlog that decouples delivery from a slow consumer.
//
// A sink sees each frame only for the duration of Deliver; anything kept
// beyond the call is copied.
package sink
