// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hotswap/internal/host"
	applog "hotswap/internal/log"
)

// PeakSource provides the latest per-channel peak levels.
type PeakSource interface {
	PeaksInto(dst []float32) []float32
}

// HeaderSize is the fixed part of a meter packet.
const HeaderSize = 4 + 8 + 2

var ErrShortPacket = errors.New("udp: short meter packet")

// MeterPublisher periodically reads peak levels, packs them into the
// binary format below and sends them with a Sender.
type MeterPublisher struct {
	sender   *Sender
	source   PeakSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	sequenceNum uint32

	// Reused on every tick.
	peaks  []float32
	packet []byte
}

// NewMeterPublisher defaults to 33ms (~30Hz) when interval is not positive.
func NewMeterPublisher(interval time.Duration, sender *Sender, source PeakSource) (*MeterPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("MeterPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("MeterPublisher: peak source cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		applog.Warnf("MeterPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	applog.Infof("MeterPublisher: Initializing (Interval: %s)", interval)

	return &MeterPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
		peaks:    make([]float32, 0, host.MaxMeterChannels),
		packet:   make([]byte, 0, HeaderSize+4*host.MaxMeterChannels),
	}, nil
}

func (p *MeterPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("MeterPublisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

func (p *MeterPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("MeterPublisher: stopped after %d packets", p.sequenceNum)
	return nil
}

/*
Meter Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       | Channel Count |          Peaks          |
|      (uint32)     |  (int64, ns, epoch)   |   (uint16)    |      (N * float32)      |
+-------------------+-----------------------+---------------+-------------------------+
*/

// AppendPacket encodes one meter packet onto dst.
func AppendPacket(dst []byte, seq uint32, timestamp int64, peaks []float32) []byte {
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(peaks)))
	for _, v := range peaks {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// DecodePacket parses a meter packet, appending the peaks to dst.
func DecodePacket(b []byte, dst []float32) (seq uint32, timestamp int64, peaks []float32, err error) {
	if len(b) < HeaderSize {
		return 0, 0, dst, ErrShortPacket
	}
	seq = binary.BigEndian.Uint32(b)
	timestamp = int64(binary.BigEndian.Uint64(b[4:]))
	n := int(binary.BigEndian.Uint16(b[12:]))
	b = b[HeaderSize:]
	if len(b) < 4*n {
		return seq, timestamp, dst, ErrShortPacket
	}
	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.BigEndian.Uint32(b[4*i:])))
	}
	return seq, timestamp, dst, nil
}

func (p *MeterPublisher) publish() {
	p.peaks = p.source.PeaksInto(p.peaks[:0])
	p.sequenceNum++
	p.packet = AppendPacket(p.packet[:0], p.sequenceNum, time.Now().UnixNano(), p.peaks)

	// Send logs the start and end of an outage.
	if err := p.sender.Send(p.packet); err == nil {
		applog.Debugf("MeterPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(p.packet))
	}
}

func (p *MeterPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*MeterPublisher)(nil)
