// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mediatype

import (
	"path"
	"strings"
)

type Kind int

const (
	Other Kind = iota
	Video
	Subtitle
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Subtitle:
		return "subtitle"
	default:
		return "other"
	}
}

var videoExtensions = map[string]struct{}{
	".mkv": {}, ".mp4": {}, ".avi": {}, ".m4v": {}, ".wmv": {}, ".mov": {},
	".ts": {}, ".m2ts": {}, ".vob": {}, ".mpg": {}, ".mpeg": {}, ".webm": {}, ".flv": {},
}

var subtitleExtensions = map[string]struct{}{
	".srt": {}, ".sub": {}, ".idx": {}, ".ass": {}, ".ssa": {}, ".vtt": {}, ".sup": {},
}

var mimeTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".webm": "video/webm",
	".flv":  "video/x-flv",
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
	".ass":  "text/x-ssa",
	".ssa":  "text/x-ssa",
}

// Classify looks only at the extension of the final path segment.
func Classify(name string) Kind {
	ext := ext(name)
	if _, ok := videoExtensions[ext]; ok {
		return Video
	}
	if _, ok := subtitleExtensions[ext]; ok {
		return Subtitle
	}
	return Other
}

func IsVideo(name string) bool {
	return Classify(name) == Video
}

func IsSubtitle(name string) bool {
	return Classify(name) == Subtitle
}

// MimeType returns a best-effort content type, "application/octet-stream" when unknown.
func MimeType(name string) string {
	if mt, ok := mimeTypes[ext(name)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ParseKind accepts "video", "subtitle"/"subtitles" and "all"/"" (reported as Other, ok).
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "videos":
		return Video, true
	case "subtitle", "subtitles", "subs":
		return Subtitle, true
	case "", "all":
		return Other, true
	default:
		return Other, false
	}
}

func ext(name string) string {
	return strings.ToLower(path.Ext(path.Base(name)))
}
