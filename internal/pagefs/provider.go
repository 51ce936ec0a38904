// Package pagefs exposes wiki pages as virtual files addressed by locators.
package pagefs

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"growiclient/app/internal/growi"
	"growiclient/app/internal/wikipath"
)

// ErrNotImplemented is returned by directory-style operations. The page tree owns directory semantics.
var ErrNotImplemented = eris.New("operation not implemented")

// ChangeType describes a file change.
type ChangeType int

// Change types.
const (
	Changed ChangeType = iota + 1
	Created
)

func (t ChangeType) String() string {
	switch t {
	case Changed:
		return "changed"
	case Created:
		return "created"
	default:
		return "unknown"
	}
}

// FileChangeEvent is emitted after a successful write.
type FileChangeEvent struct {
	Type    ChangeType
	Locator string
	Path    string
}

// WriteOptions mirrors the host's write flags.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}

// PageClient is the part of the wiki client the provider needs.
type PageClient interface {
	GetPage(ctx context.Context, path string) (*growi.Page, error)
	UpdatePage(ctx context.Context, path, body string) (*growi.Page, error)
	PageExists(ctx context.Context, path string) (bool, error)
	CreatePage(ctx context.Context, path, body string) (*growi.Page, error)
}

var _ PageClient = (*growi.Client)(nil)

// Options configures a Provider.
type Options struct {
	Client PageClient
	Logger *logrus.Logger
}

// Provider answers reads and writes for single page locators.
type Provider struct {
	client PageClient
	logger *logrus.Logger

	mu        sync.Mutex
	listeners map[int]func(FileChangeEvent)
	nextID    int
}

// New constructs a Provider.
func New(opts Options) (*Provider, error) {
	if opts.Client == nil {
		return nil, eris.New("page client is required")
	}

	return &Provider{
		client:    opts.Client,
		logger:    opts.Logger,
		listeners: make(map[int]func(FileChangeEvent)),
	}, nil
}

// ReadFile returns the page body. A missing page reads as an empty file so it can be created on save.
func (p *Provider) ReadFile(ctx context.Context, locator string) ([]byte, error) {
	path := wikipath.FromLocator(locator)

	page, err := p.client.GetPage(ctx, path)
	if err != nil {
		if eris.Is(err, growi.ErrPageNotFound) {
			return []byte{}, nil
		}
		p.logError(err, path, "reading page failed")
		return nil, err
	}

	return []byte(page.Revision.Body), nil
}

// WriteFile updates an existing page or creates a new one depending on the flags.
func (p *Provider) WriteFile(ctx context.Context, locator string, content []byte, opts WriteOptions) error {
	path := wikipath.FromLocator(locator)

	if len(content) == 0 {
		return growi.ContentIsEmpty()
	}

	exists, err := p.client.PageExists(ctx, path)
	if err != nil {
		p.logError(err, path, "probing page failed")
		return err
	}

	event := FileChangeEvent{Locator: wikipath.ToLocator(path), Path: path}
	if exists {
		if !opts.Overwrite {
			return growi.PageExists(path)
		}
		if _, err := p.client.UpdatePage(ctx, path, string(content)); err != nil {
			p.logError(err, path, "updating page failed")
			return err
		}
		event.Type = Changed
	} else {
		if !opts.Create {
			return growi.PageNotFound(path)
		}
		if _, err := p.client.CreatePage(ctx, path, string(content)); err != nil {
			p.logError(err, path, "creating page failed")
			return err
		}
		event.Type = Created
	}

	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{
			"component": "pagefs",
			"path":      path,
			"change":    event.Type.String(),
		}).Info("page written")
	}

	p.emit(event)
	return nil
}

// OnDidChangeFile registers a listener for write notifications.
func (p *Provider) OnDidChangeFile(listener func(FileChangeEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) emit(event FileChangeEvent) {
	p.mu.Lock()
	listeners := make([]func(FileChangeEvent), 0, len(p.listeners))
	for _, listener := range p.listeners {
		listeners = append(listeners, listener)
	}
	p.mu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Watch is not supported.
func (p *Provider) Watch(string) error {
	return notImplemented("watch")
}

// Stat is not supported.
func (p *Provider) Stat(string) error {
	return notImplemented("stat")
}

// ReadDirectory is not supported.
func (p *Provider) ReadDirectory(string) error {
	return notImplemented("readDirectory")
}

// CreateDirectory is not supported.
func (p *Provider) CreateDirectory(string) error {
	return notImplemented("createDirectory")
}

// Delete is not supported.
func (p *Provider) Delete(string) error {
	return notImplemented("delete")
}

// Rename is not supported.
func (p *Provider) Rename(string, string) error {
	return notImplemented("rename")
}

func notImplemented(op string) error {
	return eris.Wrapf(ErrNotImplemented, "%s", op)
}

func (p *Provider) logError(err error, path, message string) {
	if p.logger == nil || err == nil {
		return
	}
	// Missing settings are reported by the caller's own prompt.
	if eris.Is(err, growi.ErrSettingsUndefined) {
		return
	}
	p.logger.WithFields(logrus.Fields{
		"component": "pagefs",
		"path":      path,
		"error":     err.Error(),
	}).Warn(message)
}
