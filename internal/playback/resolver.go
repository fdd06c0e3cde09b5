// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/rdwatch/internal/filelist"
	"github.com/autobrr/rdwatch/internal/models"
	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/pkg/mediatype"
)

var (
	ErrNoFiles      = errors.New("torrent has no files")
	ErrNoLinks      = errors.New("torrent has no links")
	ErrLinkNotFound = errors.New("no link for the requested file")
	ErrFileNotFound = errors.New("file not found in torrent")
)

const defaultConcurrency = 4

// Client is the subset of the debrid client used for playback.
type Client interface {
	GetTorrent(ctx context.Context, id string) (*realdebrid.TorrentInfo, error)
	Unrestrict(ctx context.Context, link string) (*realdebrid.UnrestrictedLink, error)
}

// LastPlayedRecorder persists the most recently opened file.
type LastPlayedRecorder interface {
	Set(ctx context.Context, lp *models.LastPlayed) error
}

type Resolution struct {
	TorrentID  string          `json:"torrentId"`
	File       realdebrid.File `json:"file"`
	Index      int             `json:"index"`
	Link       string          `json:"link"`
	URL        string          `json:"url"`
	Filename   string          `json:"filename"`
	MimeType   string          `json:"mimeType"`
	Streamable bool            `json:"streamable"`
}

type Resolver struct {
	client      Client
	lastPlayed  LastPlayedRecorder
	concurrency int
	now         func() time.Time
	log         zerolog.Logger
}

// NewResolver builds a Resolver. lastPlayed may be nil.
func NewResolver(client Client, lastPlayed LastPlayedRecorder) *Resolver {
	return &Resolver{
		client:      client,
		lastPlayed:  lastPlayed,
		concurrency: defaultConcurrency,
		now:         time.Now,
		log:         log.With().Str("module", "playback").Logger(),
	}
}

// MapLinks pairs links with selected files by position. The API returns one
// link per selected file in file order without naming the file.
func MapLinks(info *realdebrid.TorrentInfo) map[int]string {
	out := make(map[int]string, len(info.Links))
	next := 0
	for _, f := range info.Files {
		if !f.Selected {
			continue
		}
		if next >= len(info.Links) {
			break
		}
		out[f.ID] = info.Links[next]
		next++
	}
	return out
}

// Resolve turns a file of a torrent into a playable URL and records it as last played.
func (r *Resolver) Resolve(ctx context.Context, torrentID string, fileID int) (*Resolution, error) {
	info, err := r.client.GetTorrent(ctx, torrentID)
	if err != nil {
		return nil, err
	}

	if len(info.Files) == 0 {
		return nil, ErrNoFiles
	}
	if len(info.Links) == 0 {
		return nil, ErrNoLinks
	}

	var (
		file  realdebrid.File
		found bool
	)
	for _, f := range info.Files {
		if f.ID == fileID {
			file, found = f, true
			break
		}
	}
	if !found {
		return nil, errors.Wrapf(ErrFileNotFound, "file %d", fileID)
	}

	link, ok := MapLinks(info)[fileID]
	if !ok {
		return nil, errors.Wrapf(ErrLinkNotFound, "file %d (%s)", fileID, file.Path)
	}

	res, err := r.unrestrict(ctx, info, file, link)
	if err != nil {
		return nil, err
	}

	r.remember(ctx, info, res)
	return res, nil
}

// ResolveAll resolves every selected video in natural order, for playlists.
func (r *Resolver) ResolveAll(ctx context.Context, torrentID string) ([]*Resolution, error) {
	info, err := r.client.GetTorrent(ctx, torrentID)
	if err != nil {
		return nil, err
	}

	if len(info.Files) == 0 {
		return nil, ErrNoFiles
	}
	if len(info.Links) == 0 {
		return nil, ErrNoLinks
	}

	links := MapLinks(info)
	videos := filelist.Build(info.SelectedFiles(), filelist.Options{Type: filelist.TypeVideo}).Files()

	// every video needs a link before any unrestrict call starts
	videoLinks := make([]string, len(videos))
	for i, f := range videos {
		link, ok := links[f.ID]
		if !ok {
			return nil, errors.Wrapf(ErrLinkNotFound, "file %d (%s)", f.ID, f.Path)
		}
		videoLinks[i] = link
	}

	results := make([]*Resolution, len(videos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, f := range videos {
		g.Go(func() error {
			res, err := r.unrestrict(gctx, info, f, videoLinks[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Resolver) unrestrict(ctx context.Context, info *realdebrid.TorrentInfo, file realdebrid.File, link string) (*Resolution, error) {
	unrestricted, err := r.client.Unrestrict(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("could not unrestrict %s: %w", file.Path, err)
	}

	filename := unrestricted.Filename
	if filename == "" {
		filename = filelist.BaseName(file.Path)
	}
	mimeType := unrestricted.MimeType
	if mimeType == "" {
		mimeType = mediatype.MimeType(filename)
	}

	return &Resolution{
		TorrentID:  info.ID,
		File:       file,
		Index:      selectedIndex(info, file.ID),
		Link:       link,
		URL:        unrestricted.Download,
		Filename:   filename,
		MimeType:   mimeType,
		Streamable: unrestricted.Streamable,
	}, nil
}

func selectedIndex(info *realdebrid.TorrentInfo, fileID int) int {
	i := 0
	for _, f := range info.Files {
		if !f.Selected {
			continue
		}
		if f.ID == fileID {
			return i
		}
		i++
	}
	return -1
}

func (r *Resolver) remember(ctx context.Context, info *realdebrid.TorrentInfo, res *Resolution) {
	if r.lastPlayed == nil {
		return
	}

	lp := &models.LastPlayed{
		Key:       models.LastPlayedKey(info.Filename, info.Bytes),
		TorrentID: info.ID,
		Path:      res.File.Path,
		Bytes:     res.File.Bytes,
		FileID:    res.File.ID,
		Index:     res.Index,
		PlayedAt:  r.now(),
	}
	if err := r.lastPlayed.Set(ctx, lp); err != nil {
		r.log.Warn().Err(err).Str("torrent", info.ID).Msg("Failed to record last played file")
	}
}
