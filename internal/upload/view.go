package upload

import "strings"

// View is what a client needs to render the control.
type View struct {
	State       State  `json:"state"`
	ShowPreview bool   `json:"showPreview"`
	PreviewURL  string `json:"previewUrl,omitempty"`
	CanRemove   bool   `json:"canRemove"`
	CanBrowse   bool   `json:"canBrowse"`
	Busy        bool   `json:"busy"`
	DragActive  bool   `json:"dragActive"`
	Prompt      string `json:"prompt,omitempty"`
	Hint        string `json:"hint,omitempty"`
	ButtonLabel string `json:"buttonLabel,omitempty"`
	AspectRatio string `json:"aspectRatio"`
	ClassName   string `json:"className,omitempty"`
	Accept      string `json:"accept"`
}

// View snapshots the control for rendering. Disabled controls still show
// their preview but offer neither removal nor browsing. While a preview is
// shown the drop zone and the browse button are hidden.
func (c *Control) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := View{
		State:       c.stateLocked(),
		Busy:        c.busy,
		DragActive:  c.dragActive,
		AspectRatio: c.cfg.AspectRatio,
		ClassName:   c.cfg.ClassName,
		Accept:      strings.Join(c.cfg.AcceptedFormats, ","),
		CanBrowse:   !c.cfg.Disabled && !c.busy,
	}

	if c.value != "" {
		v.ShowPreview = true
		v.PreviewURL = c.value
		v.CanRemove = !c.cfg.Disabled
		v.CanBrowse = false
		return v
	}

	switch {
	case c.busy:
		v.Prompt = "Uploading..."
		v.ButtonLabel = "Uploading..."
	case c.dragActive:
		v.Prompt = "Drop image here"
		v.ButtonLabel = "Choose Image"
	default:
		v.Prompt = "Click to upload or drag and drop"
		v.ButtonLabel = "Choose Image"
	}
	v.Hint = strings.ToUpper(strings.Join(c.cfg.FormatNames(), ", ")) + " up to " + c.cfg.sizeLabel()
	return v
}
