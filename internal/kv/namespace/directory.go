// Package namespace resolves namespace titles to identifiers and manages
// the namespace lifecycle (create, rename, delete).
package namespace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wranglekit/kvns/internal/api"
)

// PageSize is the number of namespaces requested per listing page.
const PageSize = 20

const basePath = "storage/kv/namespaces"

// Namespace is a server-managed key-value collection.
type Namespace struct {
	ID                  string `json:"id" yaml:"id"`
	Title               string `json:"title" yaml:"title"`
	SupportsURLEncoding bool   `json:"supports_url_encoding" yaml:"supports_url_encoding"`
}

// Requester sends enveloped API requests. *api.Client satisfies it.
type Requester interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) (*api.ResultInfo, error)
}

// Options configures a Directory.
type Options struct {
	// StrictTitles makes Resolve fail with ErrDuplicateTitle when a title
	// matches more than one namespace. When false the first match in
	// title order wins and a warning is logged.
	StrictTitles bool

	// Logger receives warnings and progress lines (default: discard).
	Logger *log.Logger
}

// Directory looks namespaces up by title.
type Directory struct {
	client Requester
	strict bool
	logger *log.Logger
}

// New creates a Directory. opts may be nil.
func New(client Requester, opts *Options) *Directory {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Directory{
		client: client,
		strict: opts.StrictTitles,
		logger: logger,
	}
}

// List returns every namespace ordered by title.
//
// Pages of PageSize are fetched one after another starting at page 1; the
// first page shorter than PageSize (possibly empty) ends the listing.
func (d *Directory) List(ctx context.Context) ([]Namespace, error) {
	var all []Namespace

	for page := 1; ; page++ {
		query := url.Values{
			"page":      {strconv.Itoa(page)},
			"per_page":  {strconv.Itoa(PageSize)},
			"order":     {"title"},
			"direction": {"asc"},
		}

		var batch []Namespace
		if _, err := d.client.Do(ctx, http.MethodGet, basePath, query, nil, &batch); err != nil {
			return nil, fmt.Errorf("failed to list namespaces (page %d): %w", page, err)
		}

		all = append(all, batch...)
		if len(batch) < PageSize {
			break
		}
	}

	return all, nil
}

// Matches returns every namespace whose title equals title, in listing order.
func (d *Directory) Matches(ctx context.Context, title string) ([]Namespace, error) {
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Namespace
	for _, ns := range all {
		if ns.Title == title {
			matches = append(matches, ns)
		}
	}
	return matches, nil
}

// Resolve returns the ID of the namespace titled title.
//
// Returns a *NotFoundError when nothing matches. With several matches the
// first one wins unless the Directory is strict, in which case a
// *DuplicateTitleError is returned.
func (d *Directory) Resolve(ctx context.Context, title string) (string, error) {
	matches, err := d.Matches(ctx, title)
	if err != nil {
		return "", err
	}

	switch {
	case len(matches) == 0:
		return "", &NotFoundError{Title: title}
	case len(matches) > 1:
		ids := make([]string, len(matches))
		for i, ns := range matches {
			ids[i] = ns.ID
		}
		if d.strict {
			return "", &DuplicateTitleError{Title: title, IDs: ids}
		}
		d.logger.Printf("WARNING: title %q matches %d namespaces, using %s", title, len(ids), ids[0])
	}

	return matches[0].ID, nil
}

// Create makes a namespace and returns its ID. It does not check whether
// the title is already taken.
func (d *Directory) Create(ctx context.Context, title string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("namespace title is required")
	}

	var ns Namespace
	if _, err := d.client.Do(ctx, http.MethodPost, basePath, nil, map[string]string{"title": title}, &ns); err != nil {
		return "", fmt.Errorf("failed to create namespace %q: %w", title, err)
	}
	if ns.ID == "" {
		return "", fmt.Errorf("failed to create namespace %q: no id returned", title)
	}

	d.logger.Printf("Created namespace: %s (%s)", title, ns.ID)
	return ns.ID, nil
}

// ResolveOrCreate resolves title and creates the namespace only when the
// lookup reports not-found. created reports whether a namespace was made.
func (d *Directory) ResolveOrCreate(ctx context.Context, title string) (id string, created bool, err error) {
	id, err = d.Resolve(ctx, title)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	id, err = d.Create(ctx, title)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Rename sets the title of the namespace currently titled src to dest.
// Nothing is mutated when src does not resolve. dest is not checked for
// uniqueness.
func (d *Directory) Rename(ctx context.Context, src, dest string) error {
	if dest == "" {
		return fmt.Errorf("new namespace title is required")
	}

	id, err := d.Resolve(ctx, src)
	if err != nil {
		return err
	}

	if _, err := d.client.Do(ctx, http.MethodPut, basePath+"/"+id, nil, map[string]string{"title": dest}, nil); err != nil {
		return fmt.Errorf("failed to rename namespace %q: %w", src, err)
	}

	d.logger.Printf("Renamed namespace %s: %s -> %s", id, src, dest)
	return nil
}

// Delete removes the namespace titled title and returns its ID.
func (d *Directory) Delete(ctx context.Context, title string) (string, error) {
	id, err := d.Resolve(ctx, title)
	if err != nil {
		return "", err
	}

	if _, err := d.client.Do(ctx, http.MethodDelete, basePath+"/"+id, nil, nil, nil); err != nil {
		return "", fmt.Errorf("failed to delete namespace %q: %w", title, err)
	}

	d.logger.Printf("Deleted namespace: %s (%s)", title, id)
	return id, nil
}
