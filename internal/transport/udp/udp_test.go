// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"net"
	"testing"
	"time"
)

type fixedPeaks []float32

func (f fixedPeaks) PeaksInto(dst []float32) []float32 { return append(dst, f...) }

func TestPacketRoundTrip(t *testing.T) {
	peaks := []float32{0, 0.5, 1}
	b := AppendPacket(nil, 7, 1234567890, peaks)
	if len(b) != HeaderSize+4*len(peaks) {
		t.Fatalf("packet is %d bytes", len(b))
	}

	seq, ts, got, err := DecodePacket(b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 || ts != 1234567890 {
		t.Errorf("header = %d, %d", seq, ts)
	}
	for i := range peaks {
		if got[i] != peaks[i] {
			t.Errorf("peak %d = %v, want %v", i, got[i], peaks[i])
		}
	}

	if _, _, _, err := DecodePacket(b[:HeaderSize-1], nil); err != ErrShortPacket {
		t.Errorf("short header: err = %v", err)
	}
	if _, _, _, err := DecodePacket(b[:len(b)-1], nil); err != ErrShortPacket {
		t.Errorf("short payload: err = %v", err)
	}
}

func TestNewMeterPublisherValidation(t *testing.T) {
	if _, err := NewMeterPublisher(time.Millisecond, nil, fixedPeaks{}); err == nil {
		t.Error("nil sender accepted")
	}
	s := &Sender{}
	if _, err := NewMeterPublisher(time.Millisecond, s, nil); err == nil {
		t.Error("nil source accepted")
	}
	p, err := NewMeterPublisher(0, s, fixedPeaks{})
	if err != nil {
		t.Fatal(err)
	}
	if p.interval != 33*time.Millisecond {
		t.Errorf("default interval = %v", p.interval)
	}
}

func TestMeterPublisherSends(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sender, err := NewSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	pub, err := NewMeterPublisher(5*time.Millisecond, sender, fixedPeaks{0.25, 0.75})
	if err != nil {
		t.Fatal(err)
	}
	pub.Start()
	pub.Start() // no-op
	defer pub.Close()

	ln.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	var last uint32
	for i := 0; i < 2; i++ {
		n, err := ln.Read(buf)
		if err != nil {
			t.Fatalf("read packet: %v", err)
		}
		seq, _, peaks, err := DecodePacket(buf[:n], nil)
		if err != nil {
			t.Fatal(err)
		}
		if seq <= last {
			t.Errorf("sequence %d after %d", seq, last)
		}
		last = seq
		if len(peaks) != 2 || peaks[0] != 0.25 || peaks[1] != 0.75 {
			t.Errorf("peaks = %v", peaks)
		}
	}

	if err := pub.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := pub.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSenderClosed(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sender, err := NewSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if sender.Target().Port != ln.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("Target() = %v, want %v", sender.Target(), ln.LocalAddr())
	}
	for i := 0; i < 3; i++ {
		if err := sender.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}
	if st := sender.Stats(); st.Sent != 3 || st.Failed != 0 {
		t.Errorf("Stats() = %+v, want 3 sent", st)
	}

	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sender.Send([]byte{1}); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("Send after Close error = %v, want ErrSenderClosed", err)
	}
	if err := sender.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := NewSender("not an address"); err == nil {
		t.Error("NewSender accepted an invalid address")
	}
}
