// Package router implements the single-producer/many-consumer stream
// multicast: one router per stream, ingesting packets from the producing
// phase and fanning them out to every subscribed consumer with per-consumer
// backpressure and a choice of wire protocols.
package router

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// Packet is one frame of a stream: a monotonic sequence number assigned by
// the router, a producer timestamp, small JSON metadata, and an opaque
// payload.
type Packet struct {
	Timestamp float64
	Sequence  uint64
	Metadata  map[string]any
	Payload   []byte
}

// Encode writes the wire frame: big-endian float64 timestamp (8B), uint64
// sequence (8B), uint32 metadata length (4B), UTF-8 JSON metadata, uint32
// payload length (4B), then the raw payload. The original orchestrator's
// TCP reader read the payload as a fixed 4096-byte chunk with no length
// prefix, which can split or merge frames on a real stream; hyperpipe
// closes that gap by length-delimiting the payload too, so Decode never
// has to guess where one frame ends and the next begins.
func (p Packet) Encode(w io.Writer) error {
	var header [16]byte
	binary.BigEndian.PutUint64(header[0:8], math.Float64bits(p.Timestamp))
	binary.BigEndian.PutUint64(header[8:16], p.Sequence)

	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", ErrFrameDecode, err)
	}
	var metaLen [4]byte
	binary.BigEndian.PutUint32(metaLen[:], uint32(len(meta)))
	var payloadLen [4]byte
	binary.BigEndian.PutUint32(payloadLen[:], uint32(len(p.Payload)))

	for _, chunk := range [][]byte{header[:], metaLen[:], meta, payloadLen[:], p.Payload} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads exactly one wire frame from r.
func Decode(r io.Reader) (Packet, error) {
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Packet{}, err
	}
	ts := math.Float64frombits(binary.BigEndian.Uint64(header[0:8]))
	seq := binary.BigEndian.Uint64(header[8:16])

	var metaLenBuf [4]byte
	if _, err := io.ReadFull(r, metaLenBuf[:]); err != nil {
		return Packet{}, fmt.Errorf("%w: read metadata length: %v", ErrFrameDecode, err)
	}
	metaLen := binary.BigEndian.Uint32(metaLenBuf[:])
	meta := make([]byte, metaLen)
	if metaLen > 0 {
		if _, err := io.ReadFull(r, meta); err != nil {
			return Packet{}, fmt.Errorf("%w: read metadata: %v", ErrFrameDecode, err)
		}
	}
	var metadata map[string]any
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &metadata); err != nil {
			return Packet{}, fmt.Errorf("%w: decode metadata: %v", ErrFrameDecode, err)
		}
	}

	var payloadLenBuf [4]byte
	if _, err := io.ReadFull(r, payloadLenBuf[:]); err != nil {
		return Packet{}, fmt.Errorf("%w: read payload length: %v", ErrFrameDecode, err)
	}
	payloadLen := binary.BigEndian.Uint32(payloadLenBuf[:])
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, fmt.Errorf("%w: read payload: %v", ErrFrameDecode, err)
		}
	}

	return Packet{Timestamp: ts, Sequence: seq, Metadata: metadata, Payload: payload}, nil
}
