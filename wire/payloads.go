package wire

import "encoding/binary"

// All payload fields are 32-bit, network byte order, per spec §6. Each
// struct below has a fixed-size constant, and its Decode function rejects
// a buffer of any other length with ErrMalformedPacket.

// FundsInfo is the DEPOSIT/WITHDRAW payload.
type FundsInfo struct {
	Amount uint32
}

const FundsInfoSize = 4

func (f FundsInfo) Encode() []byte {
	buf := make([]byte, FundsInfoSize)
	binary.BigEndian.PutUint32(buf, f.Amount)
	return buf
}

func DecodeFundsInfo(buf []byte) (FundsInfo, error) {
	if len(buf) != FundsInfoSize {
		return FundsInfo{}, ErrMalformedPacket
	}
	return FundsInfo{Amount: binary.BigEndian.Uint32(buf)}, nil
}

// EscrowInfo is the ESCROW/RELEASE payload.
type EscrowInfo struct {
	Quantity uint32
}

const EscrowInfoSize = 4

func (e EscrowInfo) Encode() []byte {
	buf := make([]byte, EscrowInfoSize)
	binary.BigEndian.PutUint32(buf, e.Quantity)
	return buf
}

func DecodeEscrowInfo(buf []byte) (EscrowInfo, error) {
	if len(buf) != EscrowInfoSize {
		return EscrowInfo{}, ErrMalformedPacket
	}
	return EscrowInfo{Quantity: binary.BigEndian.Uint32(buf)}, nil
}

// OrderInfo is the BUY/SELL payload.
type OrderInfo struct {
	Quantity uint32
	Price    uint32
}

const OrderInfoSize = 8

func (o OrderInfo) Encode() []byte {
	buf := make([]byte, OrderInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], o.Quantity)
	binary.BigEndian.PutUint32(buf[4:8], o.Price)
	return buf
}

func DecodeOrderInfo(buf []byte) (OrderInfo, error) {
	if len(buf) != OrderInfoSize {
		return OrderInfo{}, ErrMalformedPacket
	}
	return OrderInfo{
		Quantity: binary.BigEndian.Uint32(buf[0:4]),
		Price:    binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// CancelInfo is the CANCEL payload.
type CancelInfo struct {
	OrderID uint32
}

const CancelInfoSize = 4

func (c CancelInfo) Encode() []byte {
	buf := make([]byte, CancelInfoSize)
	binary.BigEndian.PutUint32(buf, c.OrderID)
	return buf
}

func DecodeCancelInfo(buf []byte) (CancelInfo, error) {
	if len(buf) != CancelInfoSize {
		return CancelInfo{}, ErrMalformedPacket
	}
	return CancelInfo{OrderID: binary.BigEndian.Uint32(buf)}, nil
}

// StatusInfo is the ACK payload for STATUS/DEPOSIT/WITHDRAW/ESCROW/
// RELEASE/BUY/SELL/CANCEL.
type StatusInfo struct {
	Balance   uint32
	Inventory uint32
	Bid       uint32
	Ask       uint32
	Last      uint32
	OrderID   uint32
	Quantity  uint32
}

const StatusInfoSize = 4 * 7

func (s StatusInfo) Encode() []byte {
	buf := make([]byte, StatusInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], s.Balance)
	binary.BigEndian.PutUint32(buf[4:8], s.Inventory)
	binary.BigEndian.PutUint32(buf[8:12], s.Bid)
	binary.BigEndian.PutUint32(buf[12:16], s.Ask)
	binary.BigEndian.PutUint32(buf[16:20], s.Last)
	binary.BigEndian.PutUint32(buf[20:24], s.OrderID)
	binary.BigEndian.PutUint32(buf[24:28], s.Quantity)
	return buf
}

func DecodeStatusInfo(buf []byte) (StatusInfo, error) {
	if len(buf) != StatusInfoSize {
		return StatusInfo{}, ErrMalformedPacket
	}
	return StatusInfo{
		Balance:   binary.BigEndian.Uint32(buf[0:4]),
		Inventory: binary.BigEndian.Uint32(buf[4:8]),
		Bid:       binary.BigEndian.Uint32(buf[8:12]),
		Ask:       binary.BigEndian.Uint32(buf[12:16]),
		Last:      binary.BigEndian.Uint32(buf[16:20]),
		OrderID:   binary.BigEndian.Uint32(buf[20:24]),
		Quantity:  binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

// NotifyInfo is the payload for POSTED/CANCELED/BOUGHT/SOLD/TRADED
// broadcasts and unicasts.
type NotifyInfo struct {
	BuyerID  uint32
	SellerID uint32
	Quantity uint32
	Price    uint32
}

const NotifyInfoSize = 4 * 4

func (n NotifyInfo) Encode() []byte {
	buf := make([]byte, NotifyInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], n.BuyerID)
	binary.BigEndian.PutUint32(buf[4:8], n.SellerID)
	binary.BigEndian.PutUint32(buf[8:12], n.Quantity)
	binary.BigEndian.PutUint32(buf[12:16], n.Price)
	return buf
}

func DecodeNotifyInfo(buf []byte) (NotifyInfo, error) {
	if len(buf) != NotifyInfoSize {
		return NotifyInfo{}, ErrMalformedPacket
	}
	return NotifyInfo{
		BuyerID:  binary.BigEndian.Uint32(buf[0:4]),
		SellerID: binary.BigEndian.Uint32(buf[4:8]),
		Quantity: binary.BigEndian.Uint32(buf[8:12]),
		Price:    binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}
