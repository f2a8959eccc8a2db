package wsproto

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelhall/paintboard/internal/paintengine"
	"github.com/pixelhall/paintboard/internal/pixelstore"
)

func buildPaintPacket(x, y uint16, r, g, b byte, uid uint32, token uuid.UUID, reqID uint32) []byte {
	buf := make([]byte, paintPacketLen)
	buf[0] = tagPaintRequest
	binary.LittleEndian.PutUint16(buf[1:3], x)
	binary.LittleEndian.PutUint16(buf[3:5], y)
	buf[5], buf[6], buf[7] = r, g, b
	var uidBuf [4]byte
	binary.LittleEndian.PutUint32(uidBuf[:], uid)
	copy(buf[8:11], uidBuf[:3])
	tokBytes, _ := token.MarshalBinary()
	copy(buf[11:27], tokBytes)
	binary.LittleEndian.PutUint32(buf[27:31], reqID)
	return buf
}

func TestDecodePaintRequestRoundTrip(t *testing.T) {
	tok := uuid.New()
	buf := buildPaintPacket(1, 0, 255, 0, 0, 42, tok, 7)

	req, err := decodePaintRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), req.X)
	assert.Equal(t, uint16(0), req.Y)
	assert.Equal(t, pixelstore.Color{R: 255, G: 0, B: 0}, req.Color)
	assert.Equal(t, int64(42), req.UID)
	assert.Equal(t, tok.String(), req.Token)
	assert.Equal(t, uint32(7), req.RequestID)
}

func TestDecodePaintRequestTooShort(t *testing.T) {
	_, err := decodePaintRequest([]byte{tagPaintRequest, 1, 2, 3})
	assert.Error(t, err)
}

func TestEncodePaintResultMatchesS1(t *testing.T) {
	got := encodePaintResult(7, paintengine.Success)
	want := []byte{0xFF, 0x07, 0x00, 0x00, 0x00, 0xEF}
	assert.Equal(t, want, got)
}

func TestEncodeBroadcastPixelMatchesS1(t *testing.T) {
	got := encodeBroadcastPixel(pixelstore.DirtyPixel{X: 1, Y: 0, Color: pixelstore.Color{R: 255, G: 0, B: 0}})
	want := []byte{0xFA, 0x01, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00}
	assert.Equal(t, want, got)
}

func TestEncodeBroadcastFrameConcatenatesRecords(t *testing.T) {
	frame := EncodeBroadcastFrame([]pixelstore.DirtyPixel{
		{X: 0, Y: 0, Color: pixelstore.Color{R: 1, G: 2, B: 3}},
		{X: 1, Y: 0, Color: pixelstore.Color{R: 4, G: 5, B: 6}},
	})
	require.Len(t, frame, 16)
	assert.Equal(t, byte(tagBroadcast), frame[0])
	assert.Equal(t, byte(tagBroadcast), frame[8])
}

func TestEncodeBroadcastFrameEmptyIsNil(t *testing.T) {
	assert.Nil(t, EncodeBroadcastFrame(nil))
}
