/*
Package channel implements the ordered, message-typed pipe joining the two
halves of the engine. Each side runs one send goroutine and one receive
goroutine; the generic message type lets the workflow channel and the canvas
channel share the same plumbing with different vocabularies.

Framing is encoding/gob over the supplied io.ReadWriter. The stream ends in
one of three ways: a message the Config.Last predicate recognizes (the
shutdown drain protocol), end-of-stream from the peer, or a local Close.

	ch := channel.New[wire.Message](pipe, channel.Config[wire.Message]{
		Name: "workflow-local",
		Last: func(m wire.Message) bool { return m.Kind == wire.KindShutdown },
	})
	ch.Start(func(m wire.Message) { dispatch(m) })
	ch.Send(wire.Message{Kind: wire.KindSelect, Payload: wire.Select{Index: 0}})
*/
package channel
