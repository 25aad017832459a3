// Package app provides the application service layer.
//
// Orchestrates use cases across partitions: status updates with mirroring
// into order partitions, notification delivery, and opening push channels.
// Sits between the transports and the actor runtimes.
package app
