// Package expander decodes the serial stream a Pixelblaze sends to its output
// expander board and accumulates the pixel data into a framebuf.Buffer.
//
// Every record on the wire is:
//
//	"UPXL" | channel u8 | command u8 | payload | crc u32
//
// The crc is consumed and ignored. Multi-byte fields are little-endian.
// Payloads:
//
//	WS2812 data    elements u8, color order u8, pixels u16, pixels*elements bytes
//	draw all       (none)
//	APA102 data    frequency u32, color order u8, pixels u16, pixels*4 bytes
//	APA102 clock   frequency u32
package expander

import (
	"encoding/binary"
	"fmt"
)

// Magic marks the start of every record.
const Magic = "UPXL"

// TrailerSize is the length of the crc that closes every record.
const TrailerSize = 4

// Command identifies the record type.
type Command uint8

const (
	CmdSetChannelWS2812      Command = 1
	CmdDrawAll               Command = 2
	CmdSetChannelAPA102Data  Command = 3
	CmdSetChannelAPA102Clock Command = 4
)

func (c Command) String() string {
	switch c {
	case CmdSetChannelWS2812:
		return "ws2812_data"
	case CmdDrawAll:
		return "draw_all"
	case CmdSetChannelAPA102Data:
		return "apa102_data"
	case CmdSetChannelAPA102Clock:
		return "apa102_clock"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Header follows the marker. Channel is 0..7 and informational only.
type Header struct {
	Channel uint8
	Command Command
}

const headerSize = 2

// ColorOrder holds the component indexes packed two bits each into the color
// order byte, red in the low bits and white in the high bits.
type ColorOrder struct {
	Red, Green, Blue, White uint8
}

// ParseColorOrder unpacks a color order byte.
func ParseColorOrder(b byte) ColorOrder {
	return ColorOrder{
		Red:   b & 0x3,
		Green: (b >> 2) & 0x3,
		Blue:  (b >> 4) & 0x3,
		White: (b >> 6) & 0x3,
	}
}

// Byte packs the order back into its wire form.
func (o ColorOrder) Byte() byte {
	return o.Red&0x3 | (o.Green&0x3)<<2 | (o.Blue&0x3)<<4 | (o.White&0x3)<<6
}

// WS2812Channel describes a WS2812 data record. Elements is 3 for RGB and 4
// for RGBW; only RGB is stored.
type WS2812Channel struct {
	Elements uint8
	Order    ColorOrder
	Pixels   uint16
}

const ws2812Size = 4

func parseWS2812(b []byte) WS2812Channel {
	return WS2812Channel{
		Elements: b[0],
		Order:    ParseColorOrder(b[1]),
		Pixels:   binary.LittleEndian.Uint16(b[2:4]),
	}
}

// PayloadLen is the number of pixel bytes that follow the descriptor.
func (c WS2812Channel) PayloadLen() int { return int(c.Pixels) * int(c.Elements) }

// APA102DataChannel describes an APA102 data record. Each pixel is a
// brightness byte followed by three color bytes.
type APA102DataChannel struct {
	Frequency uint32
	Order     ColorOrder
	Pixels    uint16
}

const (
	apa102DataSize    = 7
	apa102BytesPerLED = 4
	apa102ClockSize   = 4
	supportedElements = 3
)

func parseAPA102Data(b []byte) APA102DataChannel {
	return APA102DataChannel{
		Frequency: binary.LittleEndian.Uint32(b[0:4]),
		Order:     ParseColorOrder(b[4]),
		Pixels:    binary.LittleEndian.Uint16(b[5:7]),
	}
}

// PayloadLen is the number of pixel bytes that follow the descriptor.
func (c APA102DataChannel) PayloadLen() int { return int(c.Pixels) * apa102BytesPerLED }

// APA102ClockChannel carries the clock frequency of an APA102 channel.
type APA102ClockChannel struct {
	Frequency uint32
}

func parseAPA102Clock(b []byte) APA102ClockChannel {
	return APA102ClockChannel{Frequency: binary.LittleEndian.Uint32(b[0:4])}
}
