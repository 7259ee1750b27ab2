package live

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/yzbtdiy/VtuberAgent/internal/errors"
)

const packetHeaderLen = 16

// Wire operations of the open-platform push protocol.
const (
	OpHeartbeat      uint32 = 2
	OpHeartbeatReply uint32 = 3
	OpSendEvent      uint32 = 5
	OpAuth           uint32 = 7
	OpAuthReply      uint32 = 8
)

// Nested version-2 bodies are server-influenced input, so inflation is bounded.
const (
	maxDecompressedBytes = 16 << 20
	maxNestingDepth      = 8
)

// Packet is one unit of the binary wire protocol.
// Version 1 bodies carry a raw payload; version 2 bodies are a zlib stream
// containing further packets.
type Packet struct {
	PacketLen uint32
	HeaderLen uint16
	Version   uint16
	Operation uint32
	Sequence  uint32
	Body      []byte
}

// EncodePacket builds a version-1 client frame for the given operation.
// The protocol does not require session-unique sequence numbers for
// client-originated control frames, so the sequence id is fixed at 1.
func EncodePacket(operation uint32, body []byte) []byte {
	buf := make([]byte, packetHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(packetHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], packetHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], 1)
	binary.BigEndian.PutUint32(buf[8:12], operation)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[packetHeaderLen:], body)
	return buf
}

// DecodePackets scans data for complete frames, inflating and flattening
// version-2 containers. The scan stops without error on an incomplete tail
// or a zero packet length; a failed inflation aborts the whole call with a
// protocol error.
func DecodePackets(data []byte) ([]Packet, error) {
	return decodePackets(data, 0)
}

func decodePackets(data []byte, depth int) ([]Packet, error) {
	if depth > maxNestingDepth {
		return nil, errors.ProtocolError("nested packet depth limit exceeded", nil).
			WithContext("max_depth", maxNestingDepth)
	}

	var packets []Packet
	offset := 0

	for offset+packetHeaderLen <= len(data) {
		packetLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		if packetLen == 0 || offset+packetLen > len(data) {
			// zero length or truncated tail, stop scanning
			break
		}

		headerLen := binary.BigEndian.Uint16(data[offset+4 : offset+6])
		version := binary.BigEndian.Uint16(data[offset+6 : offset+8])
		operation := binary.BigEndian.Uint32(data[offset+8 : offset+12])
		sequence := binary.BigEndian.Uint32(data[offset+12 : offset+16])

		if int(headerLen) < packetHeaderLen || int(headerLen) > packetLen {
			break
		}

		body := data[offset+int(headerLen) : offset+packetLen]

		if version == 2 {
			inflated, err := inflate(body)
			if err != nil {
				return nil, errors.ProtocolError("failed to inflate nested packets", err)
			}
			inner, err := decodePackets(inflated, depth+1)
			if err != nil {
				return nil, err
			}
			packets = append(packets, inner...)
		} else {
			packets = append(packets, Packet{
				PacketLen: uint32(packetLen),
				HeaderLen: headerLen,
				Version:   version,
				Operation: operation,
				Sequence:  sequence,
				Body:      append([]byte(nil), body...),
			})
		}

		// Always advance by the declared packet length so the scan terminates.
		offset += packetLen
	}

	return packets, nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedBytes+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedBytes {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedBytes)
	}
	return out, nil
}
