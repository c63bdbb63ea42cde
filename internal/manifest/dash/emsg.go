package dash

import (
	"encoding/binary"
	"fmt"

	"streamcore/internal/manifest"
)

// EmsgScheme is the DASH-specified scheme that requests a manifest
// refresh (spec GLOSSARY: emsg, spec §6).
const EmsgScheme = "urn:mpeg:dash:event:2012"

// ScanEmsgBoxes walks an ISOBMFF segment's top-level boxes and returns
// every emsg ('emsg') box found, parsing both v0 and v1 layouts. This
// is a narrow box-ID scanner, not a general demuxer — see DESIGN.md for
// why a full muxing library (e.g. mediacommon) is not imported for this.
func ScanEmsgBoxes(data []byte) ([]manifest.EmsgEvent, error) {
	var events []manifest.EmsgEvent
	offset := 0
	for offset+8 <= len(data) {
		size := binary.BigEndian.Uint32(data[offset : offset+4])
		boxType := string(data[offset+4 : offset+8])
		if size < 8 || int(size) > len(data)-offset {
			break
		}
		if boxType == "emsg" {
			ev, err := parseEmsgBox(data[offset+8 : offset+int(size)])
			if err != nil {
				return events, fmt.Errorf("parse emsg box at offset %d: %w", offset, err)
			}
			events = append(events, ev)
		}
		offset += int(size)
	}
	return events, nil
}

func parseEmsgBox(body []byte) (manifest.EmsgEvent, error) {
	if len(body) < 4 {
		return manifest.EmsgEvent{}, fmt.Errorf("emsg box too short")
	}
	version := body[0]
	rest := body[4:] // skip version(1)+flags(3)

	readCString := func() (string, error) {
		idx := -1
		for i, b := range rest {
			if b == 0 {
				idx = i
				break
			}
		}
		if idx == -1 {
			return "", fmt.Errorf("unterminated string in emsg")
		}
		s := string(rest[:idx])
		rest = rest[idx+1:]
		return s, nil
	}

	var ev manifest.EmsgEvent
	if version == 0 {
		schemeIDURI, err := readCString()
		if err != nil {
			return ev, err
		}
		value, err := readCString()
		if err != nil {
			return ev, err
		}
		if len(rest) < 16 {
			return ev, fmt.Errorf("emsg v0 body too short")
		}
		ev.SchemeIDURI = schemeIDURI
		ev.Value = value
		ev.Timescale = binary.BigEndian.Uint32(rest[0:4])
		ev.PresentationTimeDelta = binary.BigEndian.Uint32(rest[4:8])
		ev.EventDuration = binary.BigEndian.Uint32(rest[8:12])
		ev.ID = binary.BigEndian.Uint32(rest[12:16])
		ev.MessageData = rest[16:]
		return ev, nil
	}

	// version 1: timescale, presentation_time (64-bit), event_duration, id, then scheme_id_uri, value
	if len(rest) < 20 {
		return ev, fmt.Errorf("emsg v1 body too short")
	}
	ev.Timescale = binary.BigEndian.Uint32(rest[0:4])
	ev.EventDuration = binary.BigEndian.Uint32(rest[12:16])
	ev.ID = binary.BigEndian.Uint32(rest[16:20])
	rest = rest[20:]
	schemeIDURI, err := readCString()
	if err != nil {
		return ev, err
	}
	value, err := readCString()
	if err != nil {
		return ev, err
	}
	ev.SchemeIDURI = schemeIDURI
	ev.Value = value
	ev.MessageData = rest
	return ev, nil
}

// IsRefreshEvent reports whether an emsg event requests a manifest
// refresh per the DASH convention (spec §6).
func IsRefreshEvent(ev manifest.EmsgEvent) bool {
	return ev.SchemeIDURI == EmsgScheme
}
