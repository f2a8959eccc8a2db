package wsproto

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/pixelhall/paintboard/internal/paintengine"
	"github.com/pixelhall/paintboard/internal/pixelstore"
)

// Packet tags, per spec.md §4.5.
const (
	tagPaintRequest = 0xFE
	tagPaintResult  = 0xFF
	tagPing         = 0xFC
	tagPong         = 0xFB
	tagBroadcast    = 0xFA
)

const paintPacketLen = 31

// paintRequest is the decoded form of a 0xFE packet.
type paintRequest struct {
	X, Y      uint16
	Color     pixelstore.Color
	UID       int64
	Token     string
	RequestID uint32
}

// decodePaintRequest parses a single 31-byte 0xFE packet. The caller has
// already confirmed data[0] == tagPaintRequest and len(data) >= paintPacketLen.
func decodePaintRequest(data []byte) (paintRequest, error) {
	if len(data) < paintPacketLen {
		return paintRequest{}, fmt.Errorf("wsproto: paint packet too short: %d bytes", len(data))
	}
	x := binary.LittleEndian.Uint16(data[1:3])
	y := binary.LittleEndian.Uint16(data[3:5])
	r, g, b := data[5], data[6], data[7]

	uidBytes := [4]byte{data[8], data[9], data[10], 0}
	uid := int64(binary.LittleEndian.Uint32(uidBytes[:]))

	tokenBytes := data[11:27]
	id, err := uuid.FromBytes(tokenBytes)
	if err != nil {
		return paintRequest{}, fmt.Errorf("wsproto: canonicalize token bytes: %w", err)
	}

	reqID := binary.LittleEndian.Uint32(data[27:31])

	return paintRequest{
		X:         x,
		Y:         y,
		Color:     pixelstore.Color{R: r, G: g, B: b},
		UID:       uid,
		Token:     id.String(),
		RequestID: reqID,
	}, nil
}

// encodePaintResult builds a 6-byte 0xFF response packet.
func encodePaintResult(requestID uint32, code paintengine.ResultCode) []byte {
	out := make([]byte, 6)
	out[0] = tagPaintResult
	binary.LittleEndian.PutUint32(out[1:5], requestID)
	out[5] = byte(code)
	return out
}

// encodeBroadcastPixel builds an 8-byte 0xFA record for one dirtied pixel.
func encodeBroadcastPixel(p pixelstore.DirtyPixel) []byte {
	out := make([]byte, 8)
	out[0] = tagBroadcast
	binary.LittleEndian.PutUint16(out[1:3], uint16(p.X))
	binary.LittleEndian.PutUint16(out[3:5], uint16(p.Y))
	out[5] = p.Color.R
	out[6] = p.Color.G
	out[7] = p.Color.B
	return out
}

// EncodeBroadcastFrame concatenates one 8-byte 0xFA record per dirtied pixel
// into the single byte string published to every subscriber's send buffer
// for one tick.
func EncodeBroadcastFrame(dirty []pixelstore.DirtyPixel) []byte {
	if len(dirty) == 0 {
		return nil
	}
	out := make([]byte, 0, len(dirty)*8)
	for _, p := range dirty {
		out = append(out, encodeBroadcastPixel(p)...)
	}
	return out
}
