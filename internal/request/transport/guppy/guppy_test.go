package guppy

import (
	"bytes"
	"net"
	"testing"

	"github.com/vellum-gemini/vellum/internal/request/transport"
)

func datagram(header string, payload []byte) []byte {
	b := append([]byte(header+"\r\n"), payload...)
	return b
}

// nopConn stands in for the UDP socket: handleDatagram acks every data
// datagram, and those acks are discarded here.
type nopConn struct{ net.Conn }

func (nopConn) Write(p []byte) (int, error) { return len(p), nil }

func TestBasicDownloadInOrder(t *testing.T) {
	s := &session{conn: nopConn{}}

	if err := s.handleDatagram(datagram("6 text/gemini", bytes.Repeat([]byte{'a'}, 100))); err != nil {
		t.Fatalf("seq 6: %v", err)
	}
	if s.meta != "text/gemini" {
		t.Fatalf("expected meta to be set from first data chunk, got %q", s.meta)
	}
	if err := s.handleDatagram(datagram("7", bytes.Repeat([]byte{'b'}, 100))); err != nil {
		t.Fatalf("seq 7: %v", err)
	}
	if err := s.handleDatagram(datagram("8", bytes.Repeat([]byte{'c'}, 100))); err != nil {
		t.Fatalf("seq 8: %v", err)
	}
	if err := s.handleDatagram(datagram("9", nil)); err != nil {
		t.Fatalf("seq 9 (EOF marker): %v", err)
	}

	if s.state != transport.StatusSuccess {
		t.Fatalf("expected finished state, got %v", s.state)
	}
	want := append(append(bytes.Repeat([]byte{'a'}, 100), bytes.Repeat([]byte{'b'}, 100)...), bytes.Repeat([]byte{'c'}, 100)...)
	if !bytes.Equal(s.body.Bytes(), want) {
		t.Fatalf("body mismatch: got %d bytes, want %d", s.body.Len(), len(want))
	}
}

func TestPacketLossReassemblesOnceGapFills(t *testing.T) {
	s := &session{conn: nopConn{}}

	_ = s.handleDatagram(datagram("6 text/gemini", bytes.Repeat([]byte{'a'}, 100)))
	_ = s.handleDatagram(datagram("8", bytes.Repeat([]byte{'c'}, 100))) // seq 7 dropped
	_ = s.handleDatagram(datagram("9", nil))

	if s.currentSeq != 6 {
		t.Fatalf("expected reassembly to stall at seq 6 with seq 7 missing, got currentSeq=%d", s.currentSeq)
	}
	if s.state == transport.StatusSuccess {
		t.Fatal("should not be finished while seq 7 is missing")
	}

	_ = s.handleDatagram(datagram("7", bytes.Repeat([]byte{'b'}, 100)))

	if s.state != transport.StatusSuccess {
		t.Fatalf("expected finished after the gap fills, got %v", s.state)
	}
	want := append(append(bytes.Repeat([]byte{'a'}, 100), bytes.Repeat([]byte{'b'}, 100)...), bytes.Repeat([]byte{'c'}, 100)...)
	if !bytes.Equal(s.body.Bytes(), want) {
		t.Fatalf("body out of order after gap fill")
	}
}

func TestFirstReplyTerminalCodes(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   transport.Status
	}{
		{"invalid-zero", "0", transport.StatusBadRequest},
		{"invalid-five", "5", transport.StatusBadRequest},
		{"input-required", "1 enter a value", transport.StatusInput},
		{"redirect", "3 gemini://elsewhere/", transport.StatusRedirectTemp},
		{"error", "4", transport.StatusPermFailure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &session{}
			if err := s.handleDatagram(datagram(c.header, nil)); err != nil {
				t.Fatalf("handleDatagram: %v", err)
			}
			if s.state != c.want {
				t.Fatalf("got state %v, want %v", s.state, c.want)
			}
		})
	}
}

func TestStoreChunkEvictsHighestSeqWhenRingFull(t *testing.T) {
	s := &session{}
	s.firstSeq = 6

	for seq := 7; seq < 7+ringSlots; seq++ {
		s.storeChunk(seq, []byte{byte(seq)})
	}
	// the ring now holds seq 7..22, all slots full and none consecutive
	// with firstSeq=6 until seq 7 splices in; storing seq 6 should evict
	// the highest-numbered occupant to make room.
	s.storeChunk(6, []byte{6})

	found := false
	for _, c := range s.chunks {
		if c.seq == 6 {
			found = true
		}
		if c.seq == 7+ringSlots-1 {
			t.Fatal("expected the highest-seq slot to have been evicted")
		}
	}
	if !found {
		t.Fatal("expected seq 6 to have been stored after eviction")
	}
}

func TestChecksumIsStableAndOrderSensitive(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("olleh"))
	if !bytes.Equal(a, b) {
		t.Fatal("expected identical input to produce identical checksums")
	}
	if bytes.Equal(a, c) {
		t.Fatal("expected different input to produce different checksums")
	}
}
