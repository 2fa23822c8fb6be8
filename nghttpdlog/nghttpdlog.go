// Package nghttpdlog extracts HTTP/2 client signatures from the verbose
// output of nghttpd (`nghttpd -v`). The server has already demultiplexed the
// connection, so this is pure log-text parsing; the frame records it yields
// feed netsigil's HTTP/2 signature directly.
package nghttpdlog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/netsigil/netsigil"
)

// A frame received from a client appears in the log as:
// "[id=1] [  7.801] recv WINDOW_UPDATE frame <length=4, flags=0x00, stream_id=0>"
var (
	frameRe    = regexp.MustCompile(`\[id=(\d+)\].*recv ([A-Z_]+) frame.*stream_id=(\d+)`)
	nivRe      = regexp.MustCompile(`^\s*\(niv=(\d+)\)`)
	settingRe  = regexp.MustCompile(`^\s*\[[A-Z_]+\(0x([0-9a-fA-F]+)\):(\d+)\]`)
	windowRe   = regexp.MustCompile(`^\s*\(window_size_increment=(\d+)\)`)
	priorityRe = regexp.MustCompile(`^\s*\(dep_stream_id=(\d+), weight=(\d+), exclusive=(\d+)\)`)
)

// Client pairs an nghttpd client id with the signature assembled from the
// frames it sent, in receive order, up to and including its first HEADERS
// frame.
type Client struct {
	ID        int
	Signature *netsigil.HTTP2Signature
}

type parser struct {
	lines []string
	pos   int
}

func (p *parser) next() (string, bool) {
	if p.pos >= len(p.lines) {
		return "", false
	}
	line := p.lines[p.pos]
	p.pos++
	return line, true
}

// Parse scans an nghttpd verbose log and returns one entry per client, in
// order of first appearance. Parsing stops after the first HEADERS frame,
// which closes the signature-relevant connection prelude.
func Parse(log string) ([]Client, error) {
	p := &parser{lines: strings.Split(log, "\n")}

	var order []int
	frames := make(map[int][]netsigil.FrameSignature)
	// The per-header log lines of a HEADERS frame come before the
	// "recv HEADERS" line, so a window of preceding lines is kept.
	var previous []string

	for {
		line, ok := p.next()
		if !ok {
			break
		}
		match := frameRe.FindStringSubmatch(line)
		if match == nil {
			previous = append(previous, line)
			continue
		}

		clientID, _ := strconv.Atoi(match[1])
		frameType := match[2]
		streamID, _ := strconv.ParseUint(match[3], 10, 32)

		var frame netsigil.FrameSignature
		var err error
		switch frameType {
		case "SETTINGS":
			frame, err = p.settingsFrame(uint32(streamID))
		case "WINDOW_UPDATE":
			frame, err = p.windowUpdateFrame(uint32(streamID))
		case "PRIORITY":
			frame, err = p.priorityFrame(uint32(streamID))
		case "HEADERS":
			frame = headersFrame(previous, uint32(streamID))
		default:
			return nil, fmt.Errorf("unknown frame type %q", frameType)
		}
		if err != nil {
			return nil, err
		}

		if _, seen := frames[clientID]; !seen {
			order = append(order, clientID)
		}
		frames[clientID] = append(frames[clientID], frame)
		previous = nil

		// Stop after the first HEADERS frame
		if frameType == "HEADERS" {
			break
		}
	}

	clients := make([]Client, 0, len(order))
	for _, id := range order {
		clients = append(clients, Client{
			ID:        id,
			Signature: netsigil.NewHTTP2Signature(frames[id]),
		})
	}
	return clients, nil
}

func (p *parser) settingsFrame(streamID uint32) (netsigil.FrameSignature, error) {
	// Consume lines until the number of settings is found.
	var niv int
	for {
		line, ok := p.next()
		if !ok {
			return nil, fmt.Errorf("malformed log: ended before (niv=) line")
		}
		if m := nivRe.FindStringSubmatch(line); m != nil {
			niv, _ = strconv.Atoi(m[1])
			break
		}
	}

	frame := netsigil.SettingsFrame{StreamID: streamID, Settings: []netsigil.Setting{}}
	for i := 0; i < niv; i++ {
		line, ok := p.next()
		if !ok {
			return nil, fmt.Errorf("malformed log: ended inside settings list")
		}
		m := settingRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed log: unexpected line %q", line)
		}
		id, _ := strconv.ParseUint(m[1], 16, 16)
		value, _ := strconv.ParseUint(m[2], 10, 32)
		frame.Settings = append(frame.Settings, netsigil.NewSetting(uint16(id), uint32(value)))
	}
	return frame, nil
}

func (p *parser) windowUpdateFrame(streamID uint32) (netsigil.FrameSignature, error) {
	line, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("malformed log: ended before window_size_increment line")
	}
	m := windowRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("malformed log: unexpected line %q", line)
	}
	increment, _ := strconv.ParseUint(m[1], 10, 32)
	return netsigil.WindowUpdateFrame{StreamID: streamID, Increment: uint32(increment)}, nil
}

func (p *parser) priorityFrame(streamID uint32) (netsigil.FrameSignature, error) {
	line, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("malformed log: ended before priority line")
	}
	m := priorityRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("malformed log: unexpected line %q", line)
	}
	dep, _ := strconv.ParseUint(m[1], 10, 32)
	weight, _ := strconv.Atoi(m[2])
	return netsigil.PriorityFrame{
		StreamID:    streamID,
		DepStreamID: uint32(dep),
		Weight:      weight,
		Exclusive:   m[3] != "0",
	}, nil
}

// headersFrame recovers the pseudo-header order from the per-header lines
// logged before the "recv HEADERS" line itself.
func headersFrame(previous []string, streamID uint32) netsigil.FrameSignature {
	re := regexp.MustCompile(fmt.Sprintf(`recv \(stream_id=%d\) (:[a-z]+):`, streamID))
	frame := netsigil.HeadersFrame{StreamID: streamID, PseudoHeaders: []string{}}
	for _, line := range previous {
		if m := re.FindStringSubmatch(line); m != nil {
			frame.PseudoHeaders = append(frame.PseudoHeaders, m[1])
		}
	}
	return frame
}
