/*
Package wire defines the message vocabulary of the workflow channel: the
closed set of message kinds, their payload types, and the gob registrations
that let polymorphic operations, views, and field values cross the process
boundary.

Messages are (kind, payload) tuples carried over an ordered, reliable byte
stream by pkg/channel. The payload types here are the entire wire contract;
there is no schema negotiation, since both ends of the pipe are builds of the
same binary.

Application-defined operation and view types must be registered before any
item crosses the boundary:

	func init() {
		wire.RegisterOperation(&ThresholdOp{})
		wire.RegisterView(&HistogramView{})
	}
*/
package wire
