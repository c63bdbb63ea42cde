// Package dash implements the DASH MPD wire model and parser.
//
// The struct layout is kept from the teacher's internal/dash/mpd.go
// (XML-tag-per-field, nested structs mirroring the MPD schema) with
// SegmentBase and SegmentList added — the teacher only modeled
// SegmentTemplate — to meet spec §6's requirement to support all three
// addressing schemes.
package dash

import "encoding/xml"

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName               xml.Name `xml:"MPD"`
	Type                  string   `xml:"type,attr"`
	Profiles              string   `xml:"profiles,attr"`
	MinimumUpdatePeriod    string   `xml:"minimumUpdatePeriod,attr"`
	TimeShiftBufferDepth  string   `xml:"timeShiftBufferDepth,attr"`
	AvailabilityStartTime string   `xml:"availabilityStartTime,attr"`
	PublishTime           string   `xml:"publishTime,attr"`
	MaxSegmentDuration     string   `xml:"maxSegmentDuration,attr"`
	MinBufferTime          string   `xml:"minBufferTime,attr"`
	MediaPresentationDuration string `xml:"mediaPresentationDuration,attr"`
	SuggestedPresentationDelay string `xml:"suggestedPresentationDelay,attr"`
	Periods                []Period `xml:"Period"`
}

// Period represents a media content period.
type Period struct {
	ID      string          `xml:"id,attr"`
	Start   string          `xml:"start,attr"`
	BaseURL string          `xml:"BaseURL"`
	Sets    []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet represents a set of interchangeable representations.
type AdaptationSet struct {
	ID               string           `xml:"id,attr"`
	ContentType      string           `xml:"contentType,attr"`
	Lang             string           `xml:"lang,attr,omitempty"`
	MimeType         string           `xml:"mimeType,attr"`
	SegmentAlignment bool             `xml:"segmentAlignment,attr"`
	StartWithSAP     int              `xml:"startWithSAP,attr"`
	MaxWidth         int              `xml:"maxWidth,attr,omitempty"`
	MaxHeight        int              `xml:"maxHeight,attr,omitempty"`
	Par              string           `xml:"par,attr,omitempty"`
	CodingDependency bool             `xml:"codingDependency,attr,omitempty"`
	Roles            []Role           `xml:"Role"`
	ContentProtections []ContentProtection `xml:"ContentProtection"`
	Representations  []Representation `xml:"Representation"`
	SegmentTemplate  *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentBase      *SegmentBase     `xml:"SegmentBase"`
	SegmentList      *SegmentList     `xml:"SegmentList"`
}

// Role identifies a track's role (e.g. "main", "alternate", "commentary").
type Role struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

// ContentProtection carries DRM system information, one per key system.
type ContentProtection struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
	DefaultKID  string `xml:"cenc default_KID,attr"`
	PSSH        string `xml:"pssh"`
}

// Representation represents a specific media stream.
type Representation struct {
	ID                     string `xml:"id,attr"`
	Bandwidth              int    `xml:"bandwidth,attr"`
	Codecs                 string `xml:"codecs,attr"`
	Width                  int    `xml:"width,attr,omitempty"`
	Height                 int    `xml:"height,attr,omitempty"`
	FrameRate              string `xml:"frameRate,attr,omitempty"`
	AudioSamplingRate      int    `xml:"audioSamplingRate,attr,omitempty"`
	PresentationTimeOffset uint64 `xml:"presentationTimeOffset,attr,omitempty"`
	SegmentTemplate        *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentBase            *SegmentBase     `xml:"SegmentBase"`
	SegmentList            *SegmentList     `xml:"SegmentList"`
}

// SegmentTemplate defines the $Time$/$Number$/$RepresentationID$ URL
// structure for segments.
type SegmentTemplate struct {
	Timescale      int             `xml:"timescale,attr"`
	Duration       int             `xml:"duration,attr"`
	StartNumber    int             `xml:"startNumber,attr"`
	Initialization string          `xml:"initialization,attr"`
	Media          string          `xml:"media,attr"`
	Timeline       SegmentTimeline `xml:"SegmentTimeline"`
}

// SegmentTimeline defines the timeline of segments.
type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S represents a single segment or a run of repeated segments.
type S struct {
	T uint64 `xml:"t,attr"`           // Start time
	D uint64 `xml:"d,attr"`           // Duration
	R int    `xml:"r,attr,omitempty"` // Repeat count
}

// SegmentBase addresses a single segment via byte ranges into one file,
// with an optional inline index range.
type SegmentBase struct {
	Timescale      int    `xml:"timescale,attr"`
	IndexRange     string `xml:"indexRange,attr"`
	Initialization *URLType `xml:"Initialization"`
}

// SegmentList enumerates explicit per-segment URLs.
type SegmentList struct {
	Timescale      int        `xml:"timescale,attr"`
	Duration       int        `xml:"duration,attr"`
	Initialization *URLType   `xml:"Initialization"`
	SegmentURLs    []SegmentURL `xml:"SegmentURL"`
}

// URLType is the shared {sourceURL, range} pair used by Initialization
// elements in SegmentBase and SegmentList.
type URLType struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

// SegmentURL is one explicit entry in a SegmentList.
type SegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}
