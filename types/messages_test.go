package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestReadResponse_JSONDataIsBase64(t *testing.T) {
	resp := &ReadResponse{
		Type:     MessageTypeReadResponse,
		FileID:   "f-1",
		FileName: "movie.mp4",
		Offset:   1024,
		Data:     []byte("hello"),
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if generic["data"] != "aGVsbG8=" {
		t.Errorf("data = %v, want %q", generic["data"], "aGVsbG8=")
	}
	if generic["type"] != "readResponse" {
		t.Errorf("type = %v, want readResponse", generic["type"])
	}
	if generic["file_name"] != "movie.mp4" {
		t.Errorf("file_name = %v, want movie.mp4", generic["file_name"])
	}
}

func TestReadRequest_DecodesBrowserShape(t *testing.T) {
	raw := `{"type":"readRequest","file_id":"abc","length":100,"offset":200}`

	var req ReadRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if req.FileID != "abc" {
		t.Errorf("FileID = %q, want %q", req.FileID, "abc")
	}
	if req.Offset != 200 || req.Length != 100 {
		t.Errorf("range = [%d,+%d), want [200,+100)", req.Offset, req.Length)
	}
	if req.End() != 300 {
		t.Errorf("End() = %d, want 300", req.End())
	}
}

func TestMessageType_IsKnown(t *testing.T) {
	tests := []struct {
		typ  MessageType
		want bool
	}{
		{MessageTypeFileAnnounce, true},
		{MessageTypeClientAnnounce, true},
		{MessageTypeReadRequest, true},
		{MessageTypeReadResponse, true},
		{"", false},
		{"readrequest", false},
	}

	for _, tt := range tests {
		if got := tt.typ.IsKnown(); got != tt.want {
			t.Errorf("MessageType(%q).IsKnown() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestNewFileAnnounce(t *testing.T) {
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	info := FileInfo{Name: "a.bin", Size: 42, Mime: "application/octet-stream", LastModified: mod}

	a := NewFileAnnounce(info)
	if a.Type != MessageTypeFileAnnounce {
		t.Errorf("Type = %q, want %q", a.Type, MessageTypeFileAnnounce)
	}
	if a.LastModified != mod.UnixMilli() {
		t.Errorf("LastModified = %d, want %d", a.LastModified, mod.UnixMilli())
	}

	back := FileInfoFromAnnounce(a)
	if !back.LastModified.Equal(mod) {
		t.Errorf("LastModified = %v, want %v", back.LastModified, mod)
	}
	if back.Name != info.Name || back.Size != info.Size || back.Mime != info.Mime {
		t.Errorf("FileInfoFromAnnounce = %+v, want %+v", back, info)
	}
}

func TestFileInfo_ZeroLastModified(t *testing.T) {
	if got := (FileInfo{}).LastModifiedMillis(); got != 0 {
		t.Errorf("LastModifiedMillis() = %d, want 0", got)
	}
	if got := FileInfoFromAnnounce(&FileAnnounce{}); !got.LastModified.IsZero() {
		t.Errorf("LastModified = %v, want zero", got.LastModified)
	}
}
