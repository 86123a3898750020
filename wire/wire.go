// Package wire implements the raw DNS message codec: header and question
// parsing, compression-aware name reading, response construction for the
// record types gravastar serves locally, and the small set of byte-level
// mutations the resolver needs (response-ID patching, private-address
// rewriting, PTR extraction).
package wire

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/yl2chen/cidranger"
)

// ErrMalformedPacket is returned for any packet that fails to parse.
var ErrMalformedPacket = errors.New("wire: malformed packet")

const (
	TypeA     = 1
	TypeCNAME = 5
	TypePTR   = 12
	TypeTXT   = 16
	TypeMX    = 15
	TypeAAAA  = 28

	ClassINET = 1

	defaultTTL = 60

	maxPointerDepth = 16
)

// Header mirrors the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question describes the (single) question this codec deals with, plus the
// span of bytes it occupied in the source packet (spec §3's DnsQuestion).
// RawOffset/RawLength are carried for parity with that data model but are
// not read by BuildResponse: spec §4.A pins BuildResponse to re-encoding the
// question from QName with no pointer compression, rather than slicing the
// original bytes back out of the source packet, so a byte-for-byte echo of
// a compressed or mixed-case question is explicitly out of scope.
type Question struct {
	QName     string // canonical: lowercase, no trailing dot
	QType     uint16
	QClass    uint16
	RawOffset int
	RawLength int
}

// CanonicalName lowercases a name and strips one trailing dot, per spec §3.
func CanonicalName(name string) string {
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".")
	return name
}

func readU16(buf []byte, off int) uint16 {
	return uint16(buf[off])<<8 | uint16(buf[off+1])
}

func writeU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func writeU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ParseHeader decodes the fixed 12-byte header. Callers must ensure len(packet) >= 12.
func ParseHeader(packet []byte) Header {
	return Header{
		ID:      readU16(packet, 0),
		Flags:   readU16(packet, 2),
		QDCount: readU16(packet, 4),
		ANCount: readU16(packet, 6),
		NSCount: readU16(packet, 8),
		ARCount: readU16(packet, 10),
	}
}

// ReadName decodes a possibly-compressed name starting at offset, per
// RFC 1035 §4.1.4. depth bounds pointer-chase recursion (<=16).
//
// endOffset is the byte immediately after the first non-pointer terminator
// encountered during normal traversal, or the byte after the first pointer
// label when the name begins with one (so the caller can resume parsing the
// rest of the record right after the pointer, without following it itself).
func ReadName(packet []byte, offset int, depth int) (name string, endOffset int, err error) {
	if depth > maxPointerDepth {
		return "", 0, fmt.Errorf("%w: pointer depth exceeded", ErrMalformedPacket)
	}

	var labels []string
	pos := offset
	firstPointerEnd := -1

	for {
		if pos >= len(packet) {
			return "", 0, fmt.Errorf("%w: name runs past end", ErrMalformedPacket)
		}
		length := int(packet[pos])

		if length == 0 {
			pos++
			break
		}

		if length&0xC0 == 0xC0 {
			if pos+1 >= len(packet) {
				return "", 0, fmt.Errorf("%w: truncated pointer", ErrMalformedPacket)
			}
			pointer := (int(length&0x3F) << 8) | int(packet[pos+1])
			if firstPointerEnd == -1 {
				firstPointerEnd = pos + 2
			}
			if pointer >= offset && pointer >= pos {
				// forward or self pointer: not strictly required to reject
				// by RFC, but guards against infinite loops on crafted input.
				return "", 0, fmt.Errorf("%w: forward pointer", ErrMalformedPacket)
			}
			rest, _, err := ReadName(packet, pointer, depth+1)
			if err != nil {
				return "", 0, err
			}
			if rest != "" {
				labels = append(labels, strings.Split(rest, ".")...)
			}
			pos = firstPointerEnd
			return strings.Join(labels, "."), pos, nil
		}

		if length&0xC0 != 0 {
			return "", 0, fmt.Errorf("%w: reserved label encoding", ErrMalformedPacket)
		}

		pos++
		if pos+length > len(packet) {
			return "", 0, fmt.Errorf("%w: label runs past end", ErrMalformedPacket)
		}
		labels = append(labels, string(packet[pos:pos+length]))
		pos += length
	}

	return strings.Join(labels, "."), pos, nil
}

func writeName(buf []byte, name string) []byte {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return append(buf, 0)
	}
	for _, label := range strings.Split(name, ".") {
		buf = append(buf, byte(len(label)))
		buf = append(buf, []byte(label)...)
	}
	return append(buf, 0)
}

// ParseQuery parses the header and single question of a DNS query packet.
func ParseQuery(packet []byte) (Header, Question, error) {
	if len(packet) < 12 {
		return Header{}, Question{}, fmt.Errorf("%w: packet shorter than header", ErrMalformedPacket)
	}
	header := ParseHeader(packet)
	if header.QDCount == 0 {
		return Header{}, Question{}, fmt.Errorf("%w: qdcount is zero", ErrMalformedPacket)
	}

	offset := 12
	name, end, err := ReadName(packet, offset, 0)
	if err != nil {
		return Header{}, Question{}, err
	}
	if end+4 > len(packet) {
		return Header{}, Question{}, fmt.Errorf("%w: question type/class run past end", ErrMalformedPacket)
	}

	q := Question{
		QName:     CanonicalName(dns.Fqdn(name)),
		QType:     readU16(packet, end),
		QClass:    readU16(packet, end+2),
		RawOffset: offset,
		RawLength: (end + 4) - offset,
	}
	return header, q, nil
}

// BuildQuery encodes a single-question query packet with RD set, suitable
// for the synthetic PTR lookups the resolution engine issues for client-name
// logging.
func BuildQuery(id uint16, qname string, qtype uint16) []byte {
	buf := make([]byte, 0, 32)
	buf = writeU16(buf, id)
	buf = writeU16(buf, 0x0100) // RD
	buf = writeU16(buf, 1)
	buf = writeU16(buf, 0)
	buf = writeU16(buf, 0)
	buf = writeU16(buf, 0)
	buf = writeName(buf, qname)
	buf = writeU16(buf, qtype)
	buf = writeU16(buf, ClassINET)
	return buf
}

func responseFlags(queryFlags uint16) uint16 {
	flags := uint16(0x8000)       // QR
	flags |= queryFlags & 0x0100  // echo RD
	flags |= 0x0080                // RA
	return flags
}

func buildHeader(h Header, qdcount, ancount uint16) []byte {
	buf := make([]byte, 0, 12)
	buf = writeU16(buf, h.ID)
	buf = writeU16(buf, responseFlags(h.Flags))
	buf = writeU16(buf, qdcount)
	buf = writeU16(buf, ancount)
	buf = writeU16(buf, 0)
	buf = writeU16(buf, 0)
	return buf
}

func appendQuestion(buf []byte, q Question) []byte {
	buf = writeName(buf, q.QName)
	buf = writeU16(buf, q.QType)
	buf = writeU16(buf, q.QClass)
	return buf
}

// BuildResponse builds the 12-byte header plus re-encoded question section,
// with NSCOUNT/ARCOUNT zero and ANCOUNT as given. The question is not
// compressed on the wire.
func BuildResponse(h Header, q Question, ansCount uint16) []byte {
	buf := buildHeader(h, 1, ansCount)
	buf = appendQuestion(buf, q)
	return buf
}

// BuildEmptyResponse builds a response with ANCOUNT=0.
func BuildEmptyResponse(h Header, q Question) []byte {
	return BuildResponse(h, q, 0)
}

func appendRRHeader(buf []byte, name string, rtype uint16, ttl uint32) []byte {
	buf = writeName(buf, name)
	buf = writeU16(buf, rtype)
	buf = writeU16(buf, ClassINET)
	buf = writeU32(buf, ttl)
	return buf
}

// BuildAResponse appends a single A answer. An unparseable IPv4 literal
// serializes as four zero bytes rather than failing.
func BuildAResponse(h Header, q Question, ipv4 string) []byte {
	buf := BuildResponse(h, q, 1)
	buf = appendRRHeader(buf, q.QName, TypeA, defaultTTL)
	buf = writeU16(buf, 4)

	addr := net.ParseIP(ipv4)
	var rdata [4]byte
	if v4 := addr.To4(); v4 != nil {
		copy(rdata[:], v4)
	}
	return append(buf, rdata[:]...)
}

// BuildAAAAResponse appends a single AAAA answer. An unparseable IPv6
// literal serializes as sixteen zero bytes rather than failing.
func BuildAAAAResponse(h Header, q Question, ipv6 string) []byte {
	buf := BuildResponse(h, q, 1)
	buf = appendRRHeader(buf, q.QName, TypeAAAA, defaultTTL)
	buf = writeU16(buf, 16)

	addr := net.ParseIP(ipv6)
	var rdata [16]byte
	if v6 := addr.To16(); v6 != nil && addr.To4() == nil {
		copy(rdata[:], v6)
	}
	return append(buf, rdata[:]...)
}

// BuildCNAMEResponse appends a single CNAME answer.
func BuildCNAMEResponse(h Header, q Question, target string) []byte {
	buf := BuildResponse(h, q, 1)
	buf = appendRRHeader(buf, q.QName, TypeCNAME, defaultTTL)

	name := writeName(nil, target)
	buf = writeU16(buf, uint16(len(name)))
	return append(buf, name...)
}

// BuildPTRResponse appends a single PTR answer.
func BuildPTRResponse(h Header, q Question, target string) []byte {
	buf := BuildResponse(h, q, 1)
	buf = appendRRHeader(buf, q.QName, TypePTR, defaultTTL)

	name := writeName(nil, target)
	buf = writeU16(buf, uint16(len(name)))
	return append(buf, name...)
}

// BuildTXTResponse appends a single TXT answer, splitting value on 255-byte
// character-string boundaries.
func BuildTXTResponse(h Header, q Question, value string) []byte {
	buf := BuildResponse(h, q, 1)
	buf = appendRRHeader(buf, q.QName, TypeTXT, defaultTTL)

	var rdata []byte
	remaining := []byte(value)
	for len(remaining) > 0 {
		n := len(remaining)
		if n > 255 {
			n = 255
		}
		rdata = append(rdata, byte(n))
		rdata = append(rdata, remaining[:n]...)
		remaining = remaining[n:]
	}
	if rdata == nil {
		rdata = []byte{0}
	}

	buf = writeU16(buf, uint16(len(rdata)))
	return append(buf, rdata...)
}

// BuildMXResponse appends a single MX answer: preference then exchange name.
func BuildMXResponse(h Header, q Question, preference uint16, exchange string) []byte {
	buf := BuildResponse(h, q, 1)
	buf = appendRRHeader(buf, q.QName, TypeMX, defaultTTL)

	name := writeName(nil, exchange)
	rdlen := 2 + len(name)
	buf = writeU16(buf, uint16(rdlen))
	buf = writeU16(buf, preference)
	return append(buf, name...)
}

// PatchResponseId overwrites the first two bytes of buf with id. A no-op on
// buffers shorter than 2 bytes.
func PatchResponseId(buf []byte, id uint16) {
	if len(buf) < 2 {
		return
	}
	buf[0] = byte(id >> 8)
	buf[1] = byte(id)
}

var privateRanger cidranger.Ranger

func init() {
	privateRanger = cidranger.NewPCTrieRanger()
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		if err := privateRanger.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
			panic(err)
		}
	}
}

// isPrivateIPv4 reports whether ip is within 10/8, 172.16/12 or 192.168/16.
func isPrivateIPv4(ip net.IP) bool {
	contains, err := privateRanger.Contains(ip)
	if err != nil {
		return false
	}
	return contains
}

// section walk shared by RewritePrivateARecordsToZero and ExtractFirstPtrTarget.

type rr struct {
	name       string
	rtype      uint16
	class      uint16
	ttl        uint32
	rdlength   int
	rdataStart int
}

// walkRR reads one resource record starting at offset and returns it plus
// the offset immediately after it.
func walkRR(packet []byte, offset int) (rr, int, error) {
	name, end, err := ReadName(packet, offset, 0)
	if err != nil {
		return rr{}, 0, err
	}
	if end+10 > len(packet) {
		return rr{}, 0, fmt.Errorf("%w: RR header runs past end", ErrMalformedPacket)
	}
	rtype := readU16(packet, end)
	class := readU16(packet, end+2)
	ttl := uint32(readU16(packet, end+4))<<16 | uint32(readU16(packet, end+6))
	rdlength := int(readU16(packet, end+8))
	rdataStart := end + 10
	if rdataStart+rdlength > len(packet) {
		return rr{}, 0, fmt.Errorf("%w: RDATA runs past end", ErrMalformedPacket)
	}
	return rr{
		name:       name,
		rtype:      rtype,
		class:      class,
		ttl:        ttl,
		rdlength:   rdlength,
		rdataStart: rdataStart,
	}, rdataStart + rdlength, nil
}

// RewritePrivateARecordsToZero walks the question section and every RR in
// answer+authority+additional sections; any A record whose RDATA is an
// RFC 1918 address is zeroed in place. It reports whether any bytes were
// changed. On parse failure it returns an error; bytes already zeroed before
// the failure are not rolled back (callers discard the packet on error).
func RewritePrivateARecordsToZero(packet []byte) (bool, error) {
	if len(packet) < 12 {
		return false, fmt.Errorf("%w: packet shorter than header", ErrMalformedPacket)
	}
	h := ParseHeader(packet)
	offset := 12

	for i := uint16(0); i < h.QDCount; i++ {
		_, end, err := ReadName(packet, offset, 0)
		if err != nil {
			return false, err
		}
		if end+4 > len(packet) {
			return false, fmt.Errorf("%w: question runs past end", ErrMalformedPacket)
		}
		offset = end + 4
	}

	replaced := false
	total := int(h.ANCount) + int(h.NSCount) + int(h.ARCount)
	for i := 0; i < total; i++ {
		record, next, err := walkRR(packet, offset)
		if err != nil {
			return replaced, err
		}
		if record.rtype == TypeA && record.rdlength == 4 {
			ip := net.IP(packet[record.rdataStart : record.rdataStart+4])
			if isPrivateIPv4(ip) {
				for j := 0; j < 4; j++ {
					packet[record.rdataStart+j] = 0
				}
				replaced = true
			}
		}
		offset = next
	}
	return replaced, nil
}

// ExtractFirstPtrTarget skips the question section, scans answer RRs, and
// returns the first PTR RDATA decoded as a canonical name.
func ExtractFirstPtrTarget(packet []byte) (string, error) {
	if len(packet) < 12 {
		return "", fmt.Errorf("%w: packet shorter than header", ErrMalformedPacket)
	}
	h := ParseHeader(packet)
	offset := 12

	for i := uint16(0); i < h.QDCount; i++ {
		_, end, err := ReadName(packet, offset, 0)
		if err != nil {
			return "", err
		}
		if end+4 > len(packet) {
			return "", fmt.Errorf("%w: question runs past end", ErrMalformedPacket)
		}
		offset = end + 4
	}

	for i := uint16(0); i < h.ANCount; i++ {
		record, next, err := walkRR(packet, offset)
		if err != nil {
			return "", err
		}
		if record.rtype == TypePTR {
			name, _, err := ReadName(packet, record.rdataStart, 0)
			if err != nil {
				return "", err
			}
			return CanonicalName(name), nil
		}
		offset = next
	}
	return "", fmt.Errorf("%w: no PTR answer present", ErrMalformedPacket)
}
