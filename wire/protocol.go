// Package wire implements the bourse exchange's on-wire framing: a fixed
// 12-byte header followed by an optional fixed-layout payload, all
// multi-byte fields in network byte order. This is the hand-rolled
// equivalent of what the teacher repo generated from protobuf; the spec
// mandates an exact byte layout rather than a self-describing format, so
// there is nothing for a schema compiler to do here.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MsgType identifies the kind of message carried by a Header.
type MsgType uint8

// The full set of request and reply message types. Exact numeric values
// are unconstrained by the spec beyond being stable and distinct; this is
// the assignment used by both sides of every connection made by this
// binary.
const (
	MsgLogin MsgType = iota + 1
	MsgStatus
	MsgDeposit
	MsgWithdraw
	MsgEscrow
	MsgRelease
	MsgBuy
	MsgSell
	MsgCancel
	MsgAck
	MsgNack
	MsgBought
	MsgSold
	MsgPosted
	MsgCanceled
	MsgTraded
)

func (t MsgType) String() string {
	switch t {
	case MsgLogin:
		return "LOGIN"
	case MsgStatus:
		return "STATUS"
	case MsgDeposit:
		return "DEPOSIT"
	case MsgWithdraw:
		return "WITHDRAW"
	case MsgEscrow:
		return "ESCROW"
	case MsgRelease:
		return "RELEASE"
	case MsgBuy:
		return "BUY"
	case MsgSell:
		return "SELL"
	case MsgCancel:
		return "CANCEL"
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	case MsgBought:
		return "BOUGHT"
	case MsgSold:
		return "SOLD"
	case MsgPosted:
		return "POSTED"
	case MsgCanceled:
		return "CANCELED"
	case MsgTraded:
		return "TRADED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

const (
	// HeaderSize is the fixed size, in bytes, of every message header.
	HeaderSize = 12

	// maxPayloadSize bounds payload_size against pathological peers.
	// StatusInfo is the largest fixed-layout payload this protocol
	// defines. The bound also applies to LOGIN's variable-length user
	// name: a header announcing more than StatusInfoSize bytes is
	// rejected as malformed.
	maxPayloadSize = StatusInfoSize
)

// ErrMalformedPacket is returned when a header or payload fails to parse,
// or a payload's size doesn't match what its MsgType requires.
var ErrMalformedPacket = errors.New("malformed packet")

// Header is the fixed 12-byte preamble of every message.
type Header struct {
	Type          MsgType
	PayloadSize   uint16
	TimestampSec  uint32
	TimestampNsec uint32
}

// Encode serializes the header into its wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = 0 // reserved
	binary.BigEndian.PutUint16(buf[2:4], h.PayloadSize)
	binary.BigEndian.PutUint32(buf[4:8], h.TimestampSec)
	binary.BigEndian.PutUint32(buf[8:12], h.TimestampNsec)
	return buf
}

// DecodeHeader parses a 12-byte buffer into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, ErrMalformedPacket
	}

	h := Header{
		Type:          MsgType(buf[0]),
		PayloadSize:   binary.BigEndian.Uint16(buf[2:4]),
		TimestampSec:  binary.BigEndian.Uint32(buf[4:8]),
		TimestampNsec: binary.BigEndian.Uint32(buf[8:12]),
	}
	if h.PayloadSize > maxPayloadSize {
		return Header{}, ErrMalformedPacket
	}

	return h, nil
}

// Message is a fully decoded header plus its raw payload bytes.
type Message struct {
	Header  Header
	Payload []byte
}

// ReadMessage reads one length-prefixed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		return Message{}, err
	}

	hdr, err := DecodeHeader(hdrBuf[:])
	if err != nil {
		return Message{}, err
	}

	var payload []byte
	if hdr.PayloadSize > 0 {
		payload = make([]byte, hdr.PayloadSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, err
		}
	}

	return Message{Header: hdr, Payload: payload}, nil
}

// WriteMessage writes typ with payload to w, stamping the header with the
// current wall-clock time.
func WriteMessage(w io.Writer, typ MsgType, payload []byte, now func() (sec, nsec uint32)) error {
	sec, nsec := now()
	hdr := Header{
		Type:          typ,
		PayloadSize:   uint16(len(payload)),
		TimestampSec:  sec,
		TimestampNsec: nsec,
	}

	if _, err := w.Write(hdr.Encode()); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}
