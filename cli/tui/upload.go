package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/wsfs/upload"
)

// Upload states shown in the view.
const (
	StateUploading = "uploading"
	StateDone      = "done"
	StateFailed    = "failed"
	StateCanceled  = "canceled"
)

const (
	defaultBarWidth = 40
	maxBarWidth     = 80
)

// ProgressMsg reports acknowledged bytes.
type ProgressMsg upload.Progress

// DoneMsg reports a completed upload.
type DoneMsg upload.Result

// FailedMsg reports an upload that failed for good.
type FailedMsg struct{ Err error }

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}

// UploadModel is a Bubble Tea model for a single upload.
type UploadModel struct {
	name  string
	total int64

	bar      progress.Model
	uploaded int64
	state    string
	result   upload.Result
	err      error
}

// NewUploadModel creates a model for uploading name of total bytes.
func NewUploadModel(name string, total int64) UploadModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultBarWidth
	return UploadModel{
		name:  name,
		total: total,
		bar:   bar,
		state: StateUploading,
	}
}

// State returns the current upload state.
func (m UploadModel) State() string {
	return m.state
}

// Init implements tea.Model.
func (m UploadModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m UploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-8, 10), maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) && m.state == StateUploading {
			m.state = StateCanceled
			return m, tea.Quit
		}

	case ProgressMsg:
		m.uploaded = msg.Uploaded
		if msg.Total > 0 {
			m.total = msg.Total
		}
		return m, nil

	case DoneMsg:
		m.state = StateDone
		m.result = upload.Result(msg)
		m.uploaded = m.total
		return m, tea.Quit

	case FailedMsg:
		m.state = StateFailed
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m UploadModel) View() string {
	p := upload.Progress{Uploaded: m.uploaded, Total: m.total}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("wsfs upload"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s%s\n", LabelStyle.Render("File"), ValueStyle.Render(m.name))
	fmt.Fprintf(&b, "%s%s\n", LabelStyle.Render("State"), StateStyle(m.state).Render(m.state))
	fmt.Fprintf(&b, "%s%s\n\n", LabelStyle.Render("Bytes"), ValueStyle.Render(fmt.Sprintf("%d / %d", m.uploaded, m.total)))
	b.WriteString(m.bar.ViewAs(p.Percent() / 100))
	b.WriteString(" ")
	b.WriteString(p.String())

	switch m.state {
	case StateDone:
		fmt.Fprintf(&b, "\n\n%s%s", LabelStyle.Render("URL"), SuccessStyle.Render(m.result.URL))
		fmt.Fprintf(&b, "\n%s%s", LabelStyle.Render("Elapsed"), ValueStyle.Render(fmt.Sprintf("%ds", m.result.Seconds)))
	case StateFailed:
		fmt.Fprintf(&b, "\n\n%s", ErrorStyle.Render(m.err.Error()))
	}

	view := BoxStyle.Render(b.String())
	if m.state == StateUploading {
		view += "\n" + HelpStyle.Render("Press q or Ctrl+C to cancel")
	}
	return view
}

// UploadProgram drives an UploadModel from uploader callbacks.
type UploadProgram struct {
	program *tea.Program
}

// NewUploadProgram creates a program for uploading name of total bytes.
func NewUploadProgram(name string, total int64, opts ...tea.ProgramOption) *UploadProgram {
	return &UploadProgram{program: tea.NewProgram(NewUploadModel(name, total), opts...)}
}

// Progress forwards an uploader progress callback.
func (u *UploadProgram) Progress(p upload.Progress) {
	u.program.Send(ProgressMsg(p))
}

// Done forwards an uploader success callback.
func (u *UploadProgram) Done(r upload.Result) {
	u.program.Send(DoneMsg(r))
}

// Failed forwards an uploader error callback.
func (u *UploadProgram) Failed(err error) {
	u.program.Send(FailedMsg{Err: err})
}

// Run blocks until the upload finishes or the user cancels.
// It returns the final state.
func (u *UploadProgram) Run() (string, error) {
	final, err := u.program.Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(UploadModel)
	if !ok {
		return "", fmt.Errorf("unexpected model %T", final)
	}
	return m.state, nil
}
