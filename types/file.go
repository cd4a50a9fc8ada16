package types

import "time"

// FileInfo describes a selected file.
type FileInfo struct {
	Name         string    `json:"name" yaml:"name"`
	Size         int64     `json:"size" yaml:"size"`
	Mime         string    `json:"mime" yaml:"mime"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// LastModifiedMillis returns LastModified as milliseconds since the epoch,
// or 0 when unset.
func (f FileInfo) LastModifiedMillis() int64 {
	if f.LastModified.IsZero() {
		return 0
	}
	return f.LastModified.UnixMilli()
}

// FileInfoFromAnnounce converts an announcement back into a FileInfo.
func FileInfoFromAnnounce(a *FileAnnounce) FileInfo {
	info := FileInfo{
		Name: a.Name,
		Size: a.Size,
		Mime: a.Mime,
	}
	if a.LastModified > 0 {
		info.LastModified = time.UnixMilli(a.LastModified).UTC()
	}
	return info
}
