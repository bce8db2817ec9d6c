package domain

import "time"

// DefaultFolderName is the fallback destination when classification
// suggests a folder the user does not have.
const DefaultFolderName = "Important"

// FolderCategory is a user-defined destination folder. Name is unique per
// user. ExternalLabelID is the provider-assigned label, created lazily on
// first use.
type FolderCategory struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Name            string    `json:"name"`
	ExternalLabelID *string   `json:"external_label_id,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasExternalLabel returns true if the provider label was already created.
func (f *FolderCategory) HasExternalLabel() bool {
	return f.ExternalLabelID != nil && *f.ExternalLabelID != ""
}

// FindFolderByName returns the folder with the exact given name, or nil.
func FindFolderByName(folders []FolderCategory, name string) *FolderCategory {
	for i := range folders {
		if folders[i].Name == name {
			return &folders[i]
		}
	}
	return nil
}
