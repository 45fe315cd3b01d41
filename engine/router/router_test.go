package router

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := Packet{Timestamp: 1.5, Sequence: 42, Metadata: map[string]any{"flow_key": "eeg-1"}, Payload: []byte("hello")}
	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, p.Timestamp, got.Timestamp)
	require.Equal(t, p.Sequence, got.Sequence)
	require.Equal(t, "eeg-1", got.Metadata["flow_key"])
	require.Equal(t, p.Payload, got.Payload)
}

func TestQueueDropOldestEvictsHead(t *testing.T) {
	q := newQueue(2, DropOldest, 0)
	accepted, evicted := q.push(Packet{Sequence: 1})
	require.True(t, accepted)
	require.False(t, evicted)
	accepted, evicted = q.push(Packet{Sequence: 2})
	require.True(t, accepted)
	require.False(t, evicted)
	accepted, evicted = q.push(Packet{Sequence: 3}) // should evict seq 1
	require.True(t, accepted)
	require.True(t, evicted)

	done := make(chan struct{})
	first, ok := q.pop(done)
	require.True(t, ok)
	require.Equal(t, uint64(2), first.Sequence)
}

func TestQueueDropNewestKeepsExisting(t *testing.T) {
	q := newQueue(1, DropNewest, 0)
	accepted, evicted := q.push(Packet{Sequence: 1})
	require.True(t, accepted)
	require.False(t, evicted)
	accepted, evicted = q.push(Packet{Sequence: 2})
	require.False(t, accepted)
	require.False(t, evicted)
	require.Equal(t, 1, q.len())
}

func TestRouterFanOutToTCPConsumer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan Packet, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		p, err := Decode(conn)
		if err == nil {
			received <- p
		}
	}()

	r := New("raw", 0, nil, nil, nil)
	defer r.Close()
	id, err := r.Register(ConsumerConfig{
		Protocol: TCP, Address: ln.Addr().String(), QueueSize: 8, Backpressure: DropNewest,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r.Publish(Packet{Timestamp: 1, Payload: []byte("frame")})

	select {
	case p := <-received:
		require.Equal(t, []byte("frame"), p.Payload)
		require.Equal(t, uint64(1), p.Sequence) // sequence numbers start at 1
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not receive packet")
	}
}

func TestQueueDropOldestCountsEveryEviction(t *testing.T) {
	q := newQueue(2, DropOldest, 0)
	dropped := 0
	for i := 0; i < 8; i++ {
		_, evicted := q.push(Packet{Sequence: uint64(i)})
		if evicted {
			dropped++
		}
	}
	require.Equal(t, 6, dropped) // cap 2, 8 pushes: first 2 accepted free, next 6 each evict one
}

func TestSyncGroupMatchesAcrossStreams(t *testing.T) {
	g := NewSyncGroup([]string{"eeg", "marker"}, 10*time.Millisecond)

	_, matched := g.Offer("eeg", Packet{Sequence: 1, Timestamp: 1.000})
	require.False(t, matched)

	match, matched := g.Offer("marker", Packet{Sequence: 2, Timestamp: 1.003})
	require.True(t, matched)
	require.Equal(t, uint64(1), match["eeg"].Sequence)
	require.Equal(t, uint64(2), match["marker"].Sequence)
}

func TestSyncGroupDoesNotMatchOutsideWindow(t *testing.T) {
	g := NewSyncGroup([]string{"eeg", "marker"}, 5*time.Millisecond)

	_, matched := g.Offer("eeg", Packet{Sequence: 1, Timestamp: 1.000})
	require.False(t, matched)

	_, matched = g.Offer("marker", Packet{Sequence: 2, Timestamp: 1.100})
	require.False(t, matched)
}

func TestListenIngressTCPPublishesToConsumer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	r := New("raw", 0, nil, nil, nil)
	defer r.Close()
	require.NoError(t, r.ListenIngress(TCP, port))

	consumerLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer consumerLn.Close()

	received := make(chan Packet, 1)
	go func() {
		conn, err := consumerLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		p, err := Decode(conn)
		if err == nil {
			received <- p
		}
	}()

	_, err = r.Register(ConsumerConfig{
		Protocol: TCP, Address: consumerLn.Addr().String(), QueueSize: 8, Backpressure: DropNewest,
	})
	require.NoError(t, err)

	var producer net.Conn
	require.Eventually(t, func() bool {
		producer, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer producer.Close()

	require.NoError(t, Packet{Timestamp: 1, Payload: []byte("frame")}.Encode(producer))

	select {
	case p := <-received:
		require.Equal(t, []byte("frame"), p.Payload)
		require.Equal(t, uint64(1), p.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not receive packet via ingress")
	}
}

func TestDispatchFlowHashIsStable(t *testing.T) {
	s := NewDispatchStrategy("flow-hash")
	members := []string{"r0", "r1", "r2"}
	p := Packet{Metadata: map[string]any{"flow_key": "session-7"}}
	first := s.Pick(members, p)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, s.Pick(members, p))
	}
}
