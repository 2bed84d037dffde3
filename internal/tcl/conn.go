package tcl

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// TCL wire protocol. One UDP socket per controller, bound to an ephemeral
// local port and connected to 192.168.60.(49+id):5000. Control frames are
// 5 bytes; data packets are a 12-byte prefix (byte 1 replaced by the
// packet sequence index), 1024 payload bytes and a 4-byte suffix.

var (
	msgInit       = []byte{0xC5, 0x77, 0x88, 0x00, 0x00}
	msgReset      = []byte{0xC2, 0x77, 0x88, 0x00, 0x00}
	msgStartFrame = []byte{0xC5, 0x77, 0x88, 0x00, 0x00}
	msgEndFrame   = []byte{0xAA, 0x01, 0x8C, 0x01, 0x55}

	frameMsgPrefix = []byte{
		0x88, 0x00, 0x68, 0x3F, 0x2B, 0xFD,
		0x60, 0x8B, 0x95, 0xEF, 0x04, 0x69}
	frameMsgSuffix = []byte{0x00, 0x00, 0x00, 0x00}
)

const (
	framePacketPayload = 1024

	msgStartDelay = 500 * time.Microsecond
	msgDataDelay  = 1500 * time.Microsecond
	msgInitDelay  = 100 * time.Millisecond
	msgResetDelay = 5 * time.Second
)

// FrameSendDurationMs is the protocol pacing cost of one frame
// transmission for the given strand length, in milliseconds.
func FrameSendDurationMs(strandLength int) int {
	packets := (frameDataLen(strandLength) + framePacketPayload - 1) / framePacketPayload
	total := msgStartDelay + msgDataDelay*time.Duration(packets)
	return int(total.Milliseconds())
}

type udpConn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// dialController and sleep are indirected for tests.
var dialController = func(id int) (udpConn, error) {
	raddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("192.168.60.%d:5000", 49+id))
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp4", nil, raddr)
}

var sleep = time.Sleep

func (c *Controller) connect() bool {
	if c.conn != nil {
		return true
	}
	conn, err := dialController(c.id)
	if err != nil {
		log.Error().Err(err).Int("controller", c.id).Msg("udp connect failed")
		return false
	}
	c.conn = conn
	return true
}

func (c *Controller) closeSocket() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Controller) sendPacket(data []byte) bool {
	n, err := c.conn.Write(data)
	if err != nil {
		log.Error().Err(err).Int("controller", c.id).Msg("udp send failed")
		return false
	}
	if n != len(data) {
		log.Error().Int("controller", c.id).Int("sent", n).Int("want", len(data)).
			Msg("short udp write")
		c.requireReset = true
		return false
	}
	return true
}

// initController brings the controller to the initialised state, running
// the reset sequence first when one is pending.
func (c *Controller) initController() bool {
	if !c.connect() {
		return false
	}
	if c.initSent && !c.requireReset {
		return true
	}

	if c.requireReset {
		if c.initSent {
			log.Info().Int("controller", c.id).Msg("performing a requested reset")
		}
		if !c.sendPacket(msgReset) {
			return false
		}
		c.requireReset = false
		sleep(msgResetDelay)
	}

	if !c.sendPacket(msgInit) {
		return false
	}
	sleep(msgInitDelay)

	c.initSent = true
	c.setLastReplyTime()
	return true
}

// sendFrame transmits one packed frame: start marker, paced data packets,
// end marker, draining any replies before and after. Frames that are not
// a whole number of packets are padded with wire black.
func (c *Controller) sendFrame(frame []byte) bool {
	c.consumeReplyData()
	if !c.sendPacket(msgStartFrame) {
		return false
	}
	sleep(msgStartDelay)

	packet := make([]byte, len(frameMsgPrefix)+framePacketPayload+len(frameMsgSuffix))
	copy(packet, frameMsgPrefix)
	copy(packet[len(frameMsgPrefix)+framePacketPayload:], frameMsgSuffix)

	messageIdx := 0
	for pos := 0; pos < len(frame); pos += framePacketPayload {
		packet[1] = byte(messageIdx)
		messageIdx++
		payload := packet[len(frameMsgPrefix) : len(frameMsgPrefix)+framePacketPayload]
		n := copy(payload, frame[pos:])
		for i := n; i < framePacketPayload; i++ {
			payload[i] = frameBlackOffset
		}
		if !c.sendPacket(packet) {
			return false
		}
		sleep(msgDataDelay)
	}

	if !c.sendPacket(msgEndFrame) {
		return false
	}
	c.consumeReplyData()
	c.framesSentAfterReply++
	return true
}

// consumeReplyData drains pending datagrams without blocking. Any
// received packet counts as an alive signal.
func (c *Controller) consumeReplyData() {
	buf := make([]byte, 65536)
	for {
		_ = c.conn.SetReadDeadline(time.Now())
		_, err := c.conn.Read(buf)
		if err == nil {
			c.setLastReplyTime()
			continue
		}
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			log.Warn().Err(err).Int("controller", c.id).Msg("udp recv failed")
		}
		break
	}
}

func (c *Controller) setLastReplyTime() {
	c.lastReplyTime = nowMillis()
	c.framesSentAfterReply = 0
}
