package hierarchy

import "time"

// Folder is a node in the folder tree
type Folder struct {
	ID        string     `json:"id"`
	ParentID  *string    `json:"parent_id,omitempty"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsRoot reports whether the folder has no parent
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// IsDeleted reports whether the folder is soft-deleted
func (f *Folder) IsDeleted() bool {
	return f.DeletedAt != nil
}

// Document lives in at most one folder and inherits access through it
type Document struct {
	ID        string    `json:"id"`
	FolderID  *string   `json:"folder_id,omitempty"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
