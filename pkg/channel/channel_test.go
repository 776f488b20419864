package channel

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dualflow/dualflow/internal/testutil"
)

type testMsg struct {
	Seq  int
	Text string
	Last bool
}

func testConfig(name string) Config[testMsg] {
	return Config[testMsg]{
		Name:   name,
		Last:   func(m testMsg) bool { return m.Last },
		KindOf: func(m testMsg) string { return m.Text },
	}
}

// pair builds two connected channels over an in-memory duplex pipe.
func pair(t *testing.T) (*Channel[testMsg], *Channel[testMsg]) {
	t.Helper()
	c1, c2 := net.Pipe()
	return New(c1, testConfig("left")), New(c2, testConfig("right"))
}

type recorder struct {
	mu   sync.Mutex
	msgs []testMsg
}

func (r *recorder) handle(m testMsg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) at(i int) testMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[i]
}

func TestChannelDeliversInOrder(t *testing.T) {
	left, right := pair(t)
	var rec recorder
	left.Start(func(testMsg) {})
	right.Start(rec.handle)

	const n = 100
	for i := 0; i < n; i++ {
		testutil.AssertNoError(t, left.Send(testMsg{Seq: i, Text: "data"}))
	}
	testutil.AssertNoError(t, left.Send(testMsg{Seq: n, Last: true}))
	testutil.AssertNoError(t, right.Send(testMsg{Last: true}))

	testutil.AssertNoError(t, left.Join())
	testutil.AssertNoError(t, right.Join())

	testutil.AssertEqual(t, rec.len(), n+1)
	for i := 0; i < n; i++ {
		testutil.AssertEqual(t, rec.at(i).Seq, i)
	}
}

func TestChannelBidirectional(t *testing.T) {
	left, right := pair(t)
	var fromRight, fromLeft recorder
	left.Start(fromRight.handle)
	right.Start(fromLeft.handle)

	testutil.AssertNoError(t, left.Send(testMsg{Text: "ping"}))
	testutil.AssertNoError(t, right.Send(testMsg{Text: "pong"}))

	testutil.Eventually(t, func() bool {
		return fromLeft.len() == 1 && fromRight.len() == 1
	}, "both directions delivered")

	testutil.AssertEqual(t, fromLeft.at(0).Text, "ping")
	testutil.AssertEqual(t, fromRight.at(0).Text, "pong")

	testutil.AssertNoError(t, left.Send(testMsg{Last: true}))
	testutil.AssertNoError(t, right.Send(testMsg{Last: true}))
	testutil.AssertNoError(t, left.Join())
	testutil.AssertNoError(t, right.Join())
}

func TestChannelRefusesSendAfterLast(t *testing.T) {
	left, right := pair(t)
	left.Start(func(testMsg) {})
	right.Start(func(testMsg) {})

	testutil.AssertNoError(t, left.Send(testMsg{Last: true}))

	err := left.Send(testMsg{Text: "late"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}

	testutil.AssertNoError(t, right.Send(testMsg{Last: true}))
	testutil.AssertNoError(t, left.Join())
	testutil.AssertNoError(t, right.Join())
}

func TestChannelCloseUnblocksLoops(t *testing.T) {
	left, right := pair(t)
	left.Start(func(testMsg) {})
	right.Start(func(testMsg) {})

	testutil.AssertNoError(t, left.Close())
	testutil.AssertNoError(t, right.Close())

	// An abnormal teardown is not an error; the peer-loss warning is the
	// only trace.
	testutil.AssertNoError(t, left.Join())
	testutil.AssertNoError(t, right.Join())
}

func TestChannelDoneSignalsPeerLoss(t *testing.T) {
	left, right := pair(t)
	left.Start(func(testMsg) {})
	right.Start(func(testMsg) {})

	// The peer vanishes mid-conversation; anything waiting on a reply from
	// it must learn the wait is hopeless.
	testutil.AssertNoError(t, right.Close())
	testutil.AssertNoError(t, right.Join())

	select {
	case <-left.Done():
	case <-time.After(testutil.TestTimeout):
		t.Fatal("Done never closed after the peer vanished")
	}

	testutil.AssertNoError(t, left.Close())
	testutil.AssertNoError(t, left.Join())
}

func TestChannelPeerLossIsClean(t *testing.T) {
	left, right := pair(t)
	left.Start(func(testMsg) {})
	right.Start(func(testMsg) {})

	// The peer vanishes without a shutdown handshake.
	testutil.AssertNoError(t, right.Close())
	testutil.AssertNoError(t, right.Join())

	testutil.AssertNoError(t, left.Close())
	testutil.AssertNoError(t, left.Join())
}
