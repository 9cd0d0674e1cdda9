package pagemanager

// --- Page Management ---

const (
	// PageSize is the size of every page of every paged file.
	PageSize = 4096

	// InvalidPageID marks a frame that does not hold any page yet.
	InvalidPageID PageID = -1
	// InvalidFileID marks a frame that was never assigned to a file.
	InvalidFileID FileID = 0
)

// PageID is the page number within one file. Page n lives at byte offset n*PageSize.
type PageID int64

// Offset returns the byte offset of the page inside its file.
func (id PageID) Offset() int64 {
	return int64(id) * PageSize
}

// FileID identifies an open paged file inside a buffer pool.
type FileID uint32

// Page is one frame of the buffer pool: a page-sized buffer tagged with the
// file and page it currently holds.
//
// Pin state is a boolean, not a count. Fetching a pinned page again is a
// no-op pin and the first release unpins it for every holder.
type Page struct {
	fileID  FileID
	id      PageID
	data    []byte
	pinned  bool
	isDirty bool
}

// NewPage creates an empty frame.
func NewPage() *Page {
	return &Page{
		fileID: InvalidFileID,
		id:     InvalidPageID,
		data:   make([]byte, PageSize),
	}
}

// Reset re-tags the frame and zero-fills its contents.
func (p *Page) Reset(fileID FileID, id PageID) {
	p.fileID = fileID
	p.id = id
	p.isDirty = false
	clear(p.data)
}

func (p *Page) GetData() []byte     { return p.data }
func (p *Page) GetPageID() PageID   { return p.id }
func (p *Page) GetFileID() FileID   { return p.fileID }
func (p *Page) IsDirty() bool       { return p.isDirty }
func (p *Page) SetDirty(dirty bool) { p.isDirty = dirty }
func (p *Page) IsPinned() bool      { return p.pinned }
func (p *Page) Pin()                { p.pinned = true }
func (p *Page) Unpin()              { p.pinned = false }

// Matches reports whether the frame holds the given page of the given file.
func (p *Page) Matches(fileID FileID, id PageID) bool {
	return p.fileID == fileID && p.id == id
}
