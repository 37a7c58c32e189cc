package graph

import "time"

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// ConflictBehavior tells the server what to do when an upload target
// already exists.
type ConflictBehavior string

const (
	ConflictFail    ConflictBehavior = "fail"
	ConflictReplace ConflictBehavior = "replace"
)

// Site is a SharePoint site collection or subsite.
type Site struct {
	ID          string
	Name        string
	DisplayName string
	WebURL      string
	Hostname    string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Drive is a document library within a site.
type Drive struct {
	ID         string
	Name       string
	DriveType  string
	WebURL     string
	OwnerName  string
	QuotaUsed  int64
	QuotaTotal int64
}

// Item is a drive item (file or folder), normalized from the Graph
// driveItem resource.
type Item struct {
	ID           string
	Name         string
	DriveID      string
	ParentID     string
	ParentPath   string // "/drives/{id}/root:/Folder" as reported by the server
	Size         int64
	ETag         string
	CTag         string
	IsFolder     bool
	IsPackage    bool
	MimeType     string
	QuickXorHash string // base64
	SHA256Hash   string // hex
	WebURL       string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	ChildCount   int    // ChildCountUnknown if not present
	DownloadURL  string // pre-authenticated, short-lived; never logged
}

// UploadSession is a resumable upload target. UploadURL is
// pre-authenticated and must not be logged.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}

// UploadSessionStatus is the server's view of an in-progress session.
type UploadSessionStatus struct {
	UploadURL          string
	ExpirationTime     time.Time
	NextExpectedRanges []string
}
