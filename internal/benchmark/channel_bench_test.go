package benchmark

import (
	"net"
	"strconv"
	"testing"

	"github.com/dualflow/dualflow/pkg/channel"
	"github.com/dualflow/dualflow/pkg/wire"
)

// BenchmarkChannelRoundTrip measures gob message throughput over an
// in-memory duplex pipe, the same codec path the real pipes use.
func BenchmarkChannelRoundTrip(b *testing.B) {
	queueSizes := []int{16, 64, 256}

	for _, qs := range queueSizes {
		b.Run("queue-"+strconv.Itoa(qs), func(b *testing.B) {
			c1, c2 := net.Pipe()

			sender := channel.New(c1, channel.Config[wire.Message]{
				Name:      "bench-send",
				QueueSize: qs,
			})
			received := make(chan struct{}, 1)
			receiver := channel.New(c2, channel.Config[wire.Message]{
				Name:      "bench-recv",
				QueueSize: qs,
			})

			n := 0
			receiver.Start(func(wire.Message) {
				n++
				if n == b.N {
					received <- struct{}{}
				}
			})
			sender.Start(func(wire.Message) {})

			msg := wire.Message{
				Kind:    wire.KindUpdateOp,
				Payload: wire.UpdateField{Index: 3, Field: "threshold", Value: 100.5},
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := sender.Send(msg); err != nil {
					b.Fatal(err)
				}
			}
			<-received
			b.StopTimer()

			_ = sender.Close()
			_ = receiver.Close()
			_ = sender.Join()
			_ = receiver.Join()
		})
	}
}
