// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"strings"
	"sync"
)

// Provider hands out a Client for the current configuration and swaps it when
// the token or endpoint changes.
type Provider struct {
	mu     sync.RWMutex
	cfg    Config
	client *Client
}

func NewProvider(cfg Config) *Provider {
	p := &Provider{}
	p.Update(cfg)
	return p
}

// Update replaces the configuration. The previous client is closed only when
// a new one has to be built.
func (p *Provider) Update(cfg Config) {
	cfg.Token = strings.TrimSpace(cfg.Token)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && cfg == p.cfg {
		return
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}

	p.cfg = cfg
	if cfg.Token != "" {
		p.client = NewClient(cfg)
	}
}

// Client returns the current client or ErrMissingToken.
func (p *Provider) Client() (*Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.client == nil {
		return nil, ErrMissingToken
	}
	return p.client, nil
}

// ForToken builds a standalone client sharing the provider's settings.
func (p *Provider) ForToken(token string) *Client {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	cfg.Token = token
	return NewClient(cfg)
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func (p *Provider) ListTorrents(ctx context.Context, limit int) ([]Torrent, error) {
	c, err := p.Client()
	if err != nil {
		return nil, err
	}
	return c.ListTorrents(ctx, limit)
}

func (p *Provider) GetTorrent(ctx context.Context, id string) (*TorrentInfo, error) {
	c, err := p.Client()
	if err != nil {
		return nil, err
	}
	return c.GetTorrent(ctx, id)
}

func (p *Provider) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	c, err := p.Client()
	if err != nil {
		return err
	}
	return c.SelectFiles(ctx, id, fileIDs)
}

func (p *Provider) Unrestrict(ctx context.Context, link string) (*UnrestrictedLink, error) {
	c, err := p.Client()
	if err != nil {
		return nil, err
	}
	return c.Unrestrict(ctx, link)
}

func (p *Provider) AddMagnet(ctx context.Context, magnet string) (*AddTorrentResponse, error) {
	c, err := p.Client()
	if err != nil {
		return nil, err
	}
	return c.AddMagnet(ctx, magnet)
}
