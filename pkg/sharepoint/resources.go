package sharepoint

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/sharepoint-go/internal/graph"
)

// Resource is a handle on something a SharePoint URL can name. Handles are
// read-only snapshots taken when they were fetched.
type Resource interface {
	Name() string
	WebURL() string
	// Parent returns the containing resource, or nil at the top of what is
	// known (a site, or a drive reached through a sharing link).
	Parent() Resource
	String() string
}

var (
	_ Resource = (*Site)(nil)
	_ Resource = (*Drive)(nil)
	_ Resource = (*Folder)(nil)
	_ Resource = (*File)(nil)
)

// Site is a SharePoint site.
type Site struct {
	client *Client
	site   graph.Site
}

// ID returns the Graph site ID ("host,collection,web").
func (s *Site) ID() string { return s.site.ID }

// Name returns the display name, falling back to the URL name.
func (s *Site) Name() string {
	if s.site.DisplayName != "" {
		return s.site.DisplayName
	}

	return s.site.Name
}

func (s *Site) WebURL() string   { return s.site.WebURL }
func (s *Site) Parent() Resource { return nil }
func (s *Site) String() string   { return "Site: " + s.Name() }

// Drives lists the site's document libraries.
func (s *Site) Drives(ctx context.Context) ([]*Drive, error) {
	drives, err := s.client.api.ListDrives(ctx, s.site.ID)
	if err != nil {
		return nil, err
	}

	out := make([]*Drive, 0, len(drives))
	for _, d := range drives {
		out = append(out, &Drive{client: s.client, site: s, drive: d})
	}

	return out, nil
}

// Drive finds a document library by display name or URL segment
// ("Documents" and "Shared Documents" both work).
func (s *Site) Drive(ctx context.Context, name string) (*Drive, error) {
	d, err := s.client.api.FindDrive(ctx, s.site.ID, name)
	if err != nil {
		return nil, err
	}

	return &Drive{client: s.client, site: s, drive: *d}, nil
}

// Drive is a document library.
type Drive struct {
	client *Client
	site   *Site
	drive  graph.Drive
}

func (d *Drive) ID() string     { return d.drive.ID }
func (d *Drive) Name() string   { return d.drive.Name }
func (d *Drive) WebURL() string { return d.drive.WebURL }
func (d *Drive) String() string { return "Drive: " + d.drive.Name }

// Parent returns the owning site, or nil when the drive was reached through
// a sharing link.
func (d *Drive) Parent() Resource {
	if d.site == nil {
		return nil
	}

	return d.site
}

// Quota returns used and total bytes as last reported.
func (d *Drive) Quota() (used, total int64) {
	return d.drive.QuotaUsed, d.drive.QuotaTotal
}

// Root returns the library's root folder.
func (d *Drive) Root(ctx context.Context) (*Folder, error) {
	item, err := d.client.api.GetItemByPath(ctx, d.drive.ID, "")
	if err != nil {
		return nil, err
	}

	return &Folder{node{drive: d, item: *item}}, nil
}

// wrap turns an item into a *Folder or *File. itemPath is the drive-relative
// path; when empty it is derived from the item's parent reference.
func (d *Drive) wrap(item graph.Item, parent Resource, itemPath string) Resource {
	if itemPath == "" {
		itemPath = derivePath(item)
	}

	n := node{drive: d, parent: parent, item: item, path: strings.Trim(itemPath, "/")}
	if item.IsFolder || item.IsPackage {
		return &Folder{n}
	}

	return &File{n}
}

// derivePath rebuilds the drive-relative path from a parent reference such
// as "/drives/b!x/root:/Reports%202026".
func derivePath(item graph.Item) string {
	if item.ParentPath == "" {
		return ""
	}

	_, rel, ok := strings.Cut(item.ParentPath, "root:")
	if !ok {
		return item.Name
	}

	if unescaped, err := url.PathUnescape(rel); err == nil {
		rel = unescaped
	}

	return path.Join(strings.Trim(rel, "/"), item.Name)
}

// node holds what folders and files share.
type node struct {
	drive  *Drive
	parent Resource
	item   graph.Item
	path   string
}

func (n *node) Name() string { return n.item.Name }

func (n *node) WebURL() string { return n.item.WebURL }

// ID returns the Graph item ID. Ancestors derived from a path may not know
// theirs until first used.
func (n *node) ID() string { return n.item.ID }

// Path returns the item path relative to the drive root.
func (n *node) Path() string { return n.path }

// Drive returns the library holding the item.
func (n *node) Drive() *Drive { return n.drive }

func (n *node) Parent() Resource {
	if n.parent != nil {
		return n.parent
	}

	if !strings.Contains(n.path, "/") {
		return n.drive
	}

	return n.parentFolder()
}

// parentFolder returns a snapshot of the containing folder. Only the direct
// parent's ID is known; the rest resolve by path when used.
func (n *node) parentFolder() *Folder {
	if f, ok := n.parent.(*Folder); ok {
		return f
	}

	parentPath := path.Dir(n.path)
	if parentPath == "." {
		parentPath = ""
	}

	name := path.Base(parentPath)
	if parentPath == "" {
		name = "root"
	}

	return &Folder{node{
		drive: n.drive,
		item:  graph.Item{ID: n.item.ParentID, Name: name, DriveID: n.drive.ID(), IsFolder: true, ChildCount: graph.ChildCountUnknown},
		path:  parentPath,
	}}
}

// resolveID fills in an item ID that a derived snapshot lacks.
func (n *node) resolveID(ctx context.Context) (string, error) {
	if n.item.ID != "" {
		return n.item.ID, nil
	}

	item, err := n.drive.client.api.GetItemByPath(ctx, n.drive.ID(), n.path)
	if err != nil {
		return "", err
	}

	n.item = *item

	return item.ID, nil
}

func (n *node) childPath(name string) string {
	return path.Join(n.path, name)
}

// Folder is a folder, or the root of a library.
type Folder struct {
	node
}

func (f *Folder) String() string { return "Folder: " + f.item.Name }

// ChildCount returns the number of direct children as last reported, or
// -1 when the server did not say.
func (f *Folder) ChildCount() int { return f.item.ChildCount }

// Children lists direct children lazily, one server page at a time. The
// sequence can be ranged once and stops at the first error.
func (f *Folder) Children(ctx context.Context) iter.Seq2[Resource, error] {
	return func(yield func(Resource, error) bool) {
		id, err := f.resolveID(ctx)
		if err != nil {
			yield(nil, err)

			return
		}

		for item, err := range f.drive.client.api.Children(ctx, f.drive.ID(), id) {
			if err != nil {
				yield(nil, err)

				return
			}

			if !yield(f.drive.wrap(item, f, f.childPath(item.Name)), nil) {
				return
			}
		}
	}
}

// Child returns the direct child called name.
func (f *Folder) Child(ctx context.Context, name string) (Resource, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("sharepoint: %q is not a single path segment", name)
	}

	return f.Join(ctx, name)
}

// Join resolves a slash-separated path below the folder.
func (f *Folder) Join(ctx context.Context, subpath string) (Resource, error) {
	subpath = strings.Trim(path.Clean("/"+subpath), "/")
	if subpath == "" {
		return f, nil
	}

	id, err := f.resolveID(ctx)
	if err != nil {
		return nil, err
	}

	item, err := f.drive.client.api.ChildByName(ctx, f.drive.ID(), id, subpath)
	if err != nil {
		return nil, err
	}

	var parent Resource
	if !strings.Contains(subpath, "/") {
		parent = f
	}

	return f.drive.wrap(*item, parent, f.childPath(subpath)), nil
}

// Files walks the folder tree depth-first in server order and yields only
// files. Subfolders are listed as the walk reaches them.
func (f *Folder) Files(ctx context.Context) iter.Seq2[*File, error] {
	return func(yield func(*File, error) bool) {
		f.walk(ctx, yield)
	}
}

func (f *Folder) walk(ctx context.Context, yield func(*File, error) bool) bool {
	for r, err := range f.Children(ctx) {
		if err != nil {
			yield(nil, err)

			return false
		}

		switch v := r.(type) {
		case *File:
			if !yield(v, nil) {
				return false
			}
		case *Folder:
			if !v.walk(ctx, yield) {
				return false
			}
		}
	}

	return true
}

// Upload sends a local file into this folder under its own name.
func (f *Folder) Upload(ctx context.Context, localPath string, opts UploadOptions) (*File, error) {
	return f.uploadAs(ctx, localPath, filepath.Base(localPath), opts)
}

func (f *Folder) uploadAs(ctx context.Context, localPath, name string, opts UploadOptions) (*File, error) {
	id, err := f.resolveID(ctx)
	if err != nil {
		return nil, err
	}

	target := graph.UploadTarget{DriveID: f.drive.ID(), ParentID: id, Name: name}

	item, err := f.drive.client.engine.Upload(ctx, localPath, target, opts)
	if err != nil {
		return nil, err
	}

	return &File{node{drive: f.drive, parent: f, item: *item, path: f.childPath(item.Name)}}, nil
}

// Download mirrors the folder's files into targetDir, keeping relative
// paths. Existing files follow opts.Overwrite. It returns the paths written,
// including those written before a failure.
func (f *Folder) Download(ctx context.Context, targetDir string, opts DownloadOptions) ([]string, error) {
	var written []string

	for file, err := range f.Files(ctx) {
		if err != nil {
			return written, err
		}

		rel := strings.TrimPrefix(file.path, f.path)
		dir := filepath.Join(targetDir, filepath.FromSlash(path.Dir(strings.TrimPrefix(rel, "/"))))

		dest, err := file.Download(ctx, dir+string(os.PathSeparator), opts)
		if err != nil {
			return written, err
		}

		written = append(written, dest)
	}

	return written, nil
}

// File is a file in a document library.
type File struct {
	node
}

func (f *File) String() string { return "File: " + f.item.Name }

func (f *File) Size() int64           { return f.item.Size }
func (f *File) ModifiedAt() time.Time { return f.item.ModifiedAt }
func (f *File) MimeType() string      { return f.item.MimeType }

// QuickXorHash returns the server's base64 content hash, if reported.
func (f *File) QuickXorHash() string { return f.item.QuickXorHash }

// Download writes the file to target, which may be a directory. See
// Client.Download for target and overwrite rules.
func (f *File) Download(ctx context.Context, target string, opts DownloadOptions) (string, error) {
	item, err := f.downloadable(ctx)
	if err != nil {
		return "", err
	}

	return f.drive.client.engine.Download(ctx, item, target, opts)
}

// Bytes returns the file content in memory.
func (f *File) Bytes(ctx context.Context) ([]byte, error) {
	item, err := f.downloadable(ctx)
	if err != nil {
		return nil, err
	}

	return f.drive.client.engine.Bytes(ctx, item)
}

// downloadable returns an item carrying a download URL. Listings and
// upload responses may omit it, so the item is refetched then.
func (f *File) downloadable(ctx context.Context) (*graph.Item, error) {
	if f.item.DownloadURL != "" {
		item := f.item

		return &item, nil
	}

	id, err := f.resolveID(ctx)
	if err != nil {
		return nil, err
	}

	item, err := f.drive.client.api.GetItem(ctx, f.drive.ID(), id)
	if err != nil {
		return nil, err
	}

	return item, nil
}
