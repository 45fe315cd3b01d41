package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOrdersProducersBeforeConsumers(t *testing.T) {
	phases := []Phase{
		{Name: "acquire", Produces: []string{"raw"}},
		{Name: "filter", Consumes: []string{"raw"}, Produces: []string{"clean"}},
		{Name: "sink", Consumes: []string{"clean"}},
	}
	g, err := New(phases, nil, nil)
	require.NoError(t, err)

	order := g.StartOrder()
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	require.Less(t, pos["acquire"], pos["filter"])
	require.Less(t, pos["filter"], pos["sink"])
}

func TestNewDetectsCycle(t *testing.T) {
	phases := []Phase{
		{Name: "a", Requires: []string{"b"}},
		{Name: "b", Requires: []string{"a"}},
	}
	_, err := New(phases, nil, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCycleDetected))
}

func TestNewRejectsUnknownConsumer(t *testing.T) {
	phases := []Phase{
		{Name: "sink", Consumes: []string{"nope"}},
	}
	_, err := New(phases, nil, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestConsumersOfMergesHyperedgesAndDeclaredConsumes(t *testing.T) {
	phases := []Phase{
		{Name: "acquire", Produces: []string{"raw"}},
		{Name: "logger", Consumes: []string{"raw"}},
		{Name: "viewer"},
	}
	hyperedges := []Hyperedge{
		{Name: "raw-fanout", Source: "acquire", Targets: []string{"viewer"}, Streams: []string{"raw"}},
	}
	g, err := New(phases, nil, hyperedges)
	require.NoError(t, err)

	consumers := g.ConsumersOf("raw")
	require.ElementsMatch(t, []string{"logger", "viewer"}, consumers)

	he, ok := g.Hyperedge("raw-fanout")
	require.True(t, ok)
	require.Equal(t, "acquire", he.Source)

	producer, err := g.ProducerOf("raw")
	require.NoError(t, err)
	require.Equal(t, "acquire", producer)

	require.ElementsMatch(t, []string{"logger", "viewer"}, g.Downstream("acquire"))
	require.ElementsMatch(t, []string{"acquire"}, g.Upstream("logger"))
}

func TestNewRejectsDuplicateStreamName(t *testing.T) {
	phases := []Phase{
		{Name: "a"},
		{Name: "b"},
	}
	streams := []Stream{
		{Name: "raw", Producer: "a"},
		{Name: "raw", Producer: "b"},
	}
	_, err := New(phases, streams, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestNewRejectsDuplicateHyperedgeName(t *testing.T) {
	phases := []Phase{
		{Name: "acquire", Produces: []string{"raw"}},
		{Name: "viewer"},
	}
	hyperedges := []Hyperedge{
		{Name: "fanout", Source: "acquire", Targets: []string{"viewer"}, Streams: []string{"raw"}},
		{Name: "fanout", Source: "acquire", Targets: []string{"viewer"}, Streams: []string{"raw"}},
	}
	_, err := New(phases, nil, hyperedges)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestReverseStartOrderIsStartOrderReversed(t *testing.T) {
	phases := []Phase{
		{Name: "acquire", Produces: []string{"raw"}},
		{Name: "filter", Consumes: []string{"raw"}, Produces: []string{"clean"}},
		{Name: "sink", Consumes: []string{"clean"}},
	}
	g, err := New(phases, nil, nil)
	require.NoError(t, err)

	order := g.StartOrder()
	reversed := g.ReverseStartOrder()
	require.Len(t, reversed, len(order))
	for i, n := range order {
		require.Equal(t, n, reversed[len(reversed)-1-i])
	}
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
phases:
  - name: acquire
    command: acquired
    produces: [raw]
  - name: sink
    command: sinkd
    consumes: [raw]
streams:
  - name: raw
    producer: acquire
    protocol: tcp
`)
	g, err := Parse(doc)
	require.NoError(t, err)
	_, ok := g.Phase("acquire")
	require.True(t, ok)
	s, ok := g.Stream("raw")
	require.True(t, ok)
	require.Equal(t, "acquire", s.Producer)
}
