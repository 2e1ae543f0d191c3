package models

import "strconv"

// ViewMask identifies one or a combination of logical viewports. Tiles keep
// the OR of the masks of every view that currently requires them, which makes
// the mask act as a reference count shared by concurrent viewports.
type ViewMask uint32

const (
	ViewMain ViewMask = 1 << iota
	ViewSecondary
	ViewPreview
)

// Views lists the single-view masks a deployment can drive.
var Views = []ViewMask{ViewMain, ViewSecondary, ViewPreview}

func (m ViewMask) String() string {
	switch m {
	case ViewMain:
		return "main"
	case ViewSecondary:
		return "secondary"
	case ViewPreview:
		return "preview"
	}
	return "mask_" + strconv.FormatUint(uint64(m), 2)
}
