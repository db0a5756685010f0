// Package pcap records and replays UDP datagrams as pcap files.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// snapLen is large enough for any UDP datagram over IPv4.
const snapLen = 65535

// Datagram is a UDP payload with its endpoints.
type Datagram struct {
	Timestamp time.Time
	Src       *net.UDPAddr
	Dst       *net.UDPAddr
	Payload   []byte
}

// Capture records UDP datagrams into a pcap stream of raw IPv4
// frames, which Wireshark and tcpdump read directly.
type Capture struct {
	mu sync.Mutex
	w  *pcapgo.Writer
	c  io.Closer
}

// NewCapture writes captured datagrams to w, with nanosecond
// timestamps.
func NewCapture(w io.Writer) (*Capture, error) {
	ret := &Capture{w: pcapgo.NewWriterNanos(w)}
	if err := ret.w.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, err
	}
	if c, ok := w.(io.Closer); ok {
		ret.c = c
	}
	return ret, nil
}

// Create truncates or creates the file at path and captures into it.
func Create(path string) (*Capture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	ret, err := NewCapture(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("writing pcap header to %s: %w", path, err)
	}
	return ret, nil
}

// Record appends d to the capture. A nil Capture discards d.
func (c *Capture) Record(d Datagram) error {
	if c == nil {
		return nil
	}
	frame, err := Frame(d)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     d.Timestamp,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return c.w.WritePacket(ci, frame)
}

// Close closes the underlying writer if it is an io.Closer.
func (c *Capture) Close() error {
	if c == nil || c.c == nil {
		return nil
	}
	return c.c.Close()
}

// Frame wraps d in IPv4 and UDP headers.
func Frame(d Datagram) ([]byte, error) {
	src, dst := d.Src.IP.To4(), d.Dst.IP.To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("cannot frame %s -> %s, only IPv4 is supported", d.Src, d.Dst)
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(d.Src.Port),
		DstPort: layers.UDPPort(d.Dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &ip, &udp, gopacket.Payload(d.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrNotUDP is returned by Unframe for packets that aren't UDP over
// IPv4.
var ErrNotUDP = errors.New("not an IPv4 UDP packet")

// Unframe extracts the UDP datagram from data, which must be an
// Ethernet or raw IP frame.
func Unframe(link layers.LinkType, ci gopacket.CaptureInfo, data []byte) (Datagram, error) {
	var first gopacket.LayerType
	switch link {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	default:
		return Datagram{}, fmt.Errorf("unsupported link type %s", link)
	}

	p := gopacket.NewPacket(data, first, gopacket.Default)
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return Datagram{}, ErrNotUDP
	}
	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return Datagram{}, ErrNotUDP
	}
	return Datagram{
		Timestamp: ci.Timestamp,
		Src:       &net.UDPAddr{IP: ip.SrcIP, Port: int(udp.SrcPort)},
		Dst:       &net.UDPAddr{IP: ip.DstIP, Port: int(udp.DstPort)},
		Payload:   udp.Payload,
	}, nil
}

// ReadDatagrams returns every UDP datagram in the pcap stream r.
// Packets that aren't UDP are skipped.
func ReadDatagrams(r io.Reader) ([]Datagram, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading pcap header: %w", err)
	}
	var ret []Datagram
	for n := 1; ; n++ {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading packet %d: %w", n, err)
		}
		d, err := Unframe(pr.LinkType(), ci, data)
		if errors.Is(err, ErrNotUDP) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, d)
	}
}
