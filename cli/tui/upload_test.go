package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func update(t *testing.T, m UploadModel, msg tea.Msg) (UploadModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	um, ok := next.(UploadModel)
	if !ok {
		t.Fatalf("Update returned %T, want UploadModel", next)
	}
	return um, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestUploadModel_Progress(t *testing.T) {
	m := NewUploadModel("report.pdf", 200)

	m, cmd := update(t, m, ProgressMsg{Uploaded: 100, Total: 200})
	if cmd != nil {
		t.Error("progress should not return a command")
	}
	if m.State() != StateUploading {
		t.Errorf("state = %q, want %q", m.State(), StateUploading)
	}

	view := m.View()
	for _, want := range []string{"report.pdf", "50.00%", "100 / 200", "cancel"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestUploadModel_Done(t *testing.T) {
	m := NewUploadModel("report.pdf", 200)

	m, cmd := update(t, m, DoneMsg{URL: "http://tus/files/abc", Name: "report.pdf", Size: 200, Elapsed: 3 * time.Second, Seconds: 3})
	if !isQuit(cmd) {
		t.Error("done should quit")
	}
	if m.State() != StateDone {
		t.Errorf("state = %q, want %q", m.State(), StateDone)
	}

	view := m.View()
	for _, want := range []string{"100.00%", "http://tus/files/abc", "3s"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestUploadModel_Failed(t *testing.T) {
	m := NewUploadModel("report.pdf", 200)

	m, cmd := update(t, m, FailedMsg{Err: errors.New("endpoint unreachable")})
	if !isQuit(cmd) {
		t.Error("failure should quit")
	}
	if m.State() != StateFailed {
		t.Errorf("state = %q, want %q", m.State(), StateFailed)
	}
	if !strings.Contains(m.View(), "endpoint unreachable") {
		t.Errorf("view missing error:\n%s", m.View())
	}
}

func TestUploadModel_QuitKey(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
	}{
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := update(t, NewUploadModel("a.bin", 10), tt.msg)
			if !isQuit(cmd) {
				t.Error("quit key should quit")
			}
			if m.State() != StateCanceled {
				t.Errorf("state = %q, want %q", m.State(), StateCanceled)
			}
		})
	}
}

func TestUploadModel_OtherKeyIgnored(t *testing.T) {
	m, cmd := update(t, NewUploadModel("a.bin", 10), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if cmd != nil {
		t.Error("unbound key should not return a command")
	}
	if m.State() != StateUploading {
		t.Errorf("state = %q, want %q", m.State(), StateUploading)
	}
}

func TestUploadModel_WindowResize(t *testing.T) {
	m, _ := update(t, NewUploadModel("a.bin", 10), tea.WindowSizeMsg{Width: 200, Height: 40})
	if m.bar.Width != maxBarWidth {
		t.Errorf("bar width = %d, want %d", m.bar.Width, maxBarWidth)
	}
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 12, Height: 40})
	if m.bar.Width != 10 {
		t.Errorf("bar width = %d, want 10", m.bar.Width)
	}
}

func TestStateStyle(t *testing.T) {
	// Styles are compared by rendered output since lipgloss.Style holds funcs.
	if StateStyle(StateDone).Render("x") != SuccessStyle.Render("x") {
		t.Error("done should use SuccessStyle")
	}
	if StateStyle(StateFailed).Render("x") != ErrorStyle.Render("x") {
		t.Error("failed should use ErrorStyle")
	}
	if StateStyle(StateUploading).Render("x") != ValueStyle.Render("x") {
		t.Error("uploading should use ValueStyle")
	}
}
