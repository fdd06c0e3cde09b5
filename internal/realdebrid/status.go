// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import "fmt"

// Status is the remote torrent state, trusted verbatim.
type Status string

const (
	StatusMagnetError           Status = "magnet_error"
	StatusMagnetConversion      Status = "magnet_conversion"
	StatusWaitingFilesSelection Status = "waiting_files_selection"
	StatusQueued                Status = "queued"
	StatusDownloading           Status = "downloading"
	StatusDownloaded            Status = "downloaded"
	StatusError                 Status = "error"
	StatusVirus                 Status = "virus"
	StatusCompressing           Status = "compressing"
	StatusUploading             Status = "uploading"
	StatusDead                  Status = "dead"
)

// IsActive is false exactly for downloaded, error, dead and magnet_error.
// Unknown values count as active.
func (s Status) IsActive() bool {
	switch s {
	case StatusDownloaded, StatusError, StatusDead, StatusMagnetError:
		return false
	default:
		return true
	}
}

// Message returns the display string for the status. Unrecognised values are
// returned unchanged.
func (s Status) Message(progress int) string {
	switch s {
	case StatusMagnetConversion:
		return "Converting magnet..."
	case StatusWaitingFilesSelection:
		return "Waiting for file selection"
	case StatusQueued:
		return "Queued"
	case StatusDownloading:
		return fmt.Sprintf("Downloading %d%%", progress)
	case StatusDownloaded:
		return "Downloaded"
	case StatusError:
		return "Error"
	case StatusVirus:
		return "Virus detected"
	case StatusMagnetError:
		return "Magnet error"
	case StatusDead:
		return "Dead torrent"
	default:
		return string(s)
	}
}
