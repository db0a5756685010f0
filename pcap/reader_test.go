package pcap

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/kr/pretty"
)

// microsPcap builds a classic big-endian, microsecond resolution
// pcap of Ethernet frames, the format older tcpdump builds write.
func microsPcap(t *testing.T, frames ...[]byte) []byte {
	t.Helper()
	var b bytes.Buffer
	must := func(err error) {
		if err != nil {
			t.Fatalf("Building pcap: %s", err)
		}
	}
	must(binary.Write(&b, binary.BigEndian, []uint32{0xa1b2c3d4, 2<<16 | 4, 0, 0, 1500, uint32(layers.LinkTypeEthernet)}))
	for i, f := range frames {
		must(binary.Write(&b, binary.BigEndian, []uint32{uint32(100 + i), 250, uint32(len(f)), uint32(len(f))}))
		b.Write(f)
	}
	return b.Bytes()
}

func ethernet(t *testing.T, payload ...gopacket.SerializableLayer) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	if _, ok := payload[0].(*layers.ARP); ok {
		eth.EthernetType = layers.EthernetTypeARP
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, append([]gopacket.SerializableLayer{eth}, payload...)...); err != nil {
		t.Fatalf("Serializing frame: %s", err)
	}
	return buf.Bytes()
}

func udpFrame(t *testing.T, payload string) []byte {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 5).To4(),
		DstIP:    net.IPv4(192, 0, 2, 1).To4(),
	}
	udp := &layers.UDP{SrcPort: 67, DstPort: 67}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("Setting checksum layer: %s", err)
	}
	return ethernet(t, ip, udp, gopacket.Payload(payload))
}

func arpFrame(t *testing.T) []byte {
	return ethernet(t, &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0xaa, 0xbb, 0xcc, 0, 0, 1},
		SourceProtAddress: []byte{10, 0, 0, 5},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 6},
	})
}

func TestReadDatagramsEthernet(t *testing.T) {
	b := microsPcap(t, udpFrame(t, "one"), arpFrame(t), udpFrame(t, "two"))
	ds, err := ReadDatagrams(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Reading datagrams: %s", err)
	}

	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5).To4(), Port: 67}
	dst := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1).To4(), Port: 67}
	want := []Datagram{
		{Timestamp: time.Unix(100, 250000), Src: src, Dst: dst, Payload: []byte("one")},
		{Timestamp: time.Unix(102, 250000), Src: src, Dst: dst, Payload: []byte("two")},
	}
	if len(ds) != len(want) {
		t.Fatalf("Expected %d datagrams, got %d", len(want), len(ds))
	}
	for i := range want {
		if !ds[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("Datagram %d: expected timestamp %s, got %s", i, want[i].Timestamp, ds[i].Timestamp)
		}
		ds[i].Timestamp = want[i].Timestamp
	}
	if diff := pretty.Diff(want, ds); len(diff) > 0 {
		t.Fatalf("Wrong datagrams read:\n%s", diff)
	}
}

func TestReadDatagramsTruncated(t *testing.T) {
	b := microsPcap(t, udpFrame(t, "one"))
	if _, err := ReadDatagrams(bytes.NewReader(b[:len(b)-2])); err == nil {
		t.Fatalf("Truncated record should be an error")
	}
}

func TestReadDatagramsBadHeader(t *testing.T) {
	if _, err := ReadDatagrams(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatalf("Short header should fail")
	}
	b := microsPcap(t)
	b[0] = 0
	if _, err := ReadDatagrams(bytes.NewReader(b)); err == nil {
		t.Fatalf("Bad magic should fail")
	}
}

func TestReadDatagramsEmpty(t *testing.T) {
	ds, err := ReadDatagrams(bytes.NewReader(microsPcap(t)))
	if err != nil {
		t.Fatalf("Reading empty pcap: %s", err)
	}
	if len(ds) != 0 {
		t.Fatalf("Expected no datagrams, got %d", len(ds))
	}
}
