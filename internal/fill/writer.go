// Package fill performs the one mutation this tool makes to the host page:
// setting the branch-name field through the canonical write path.
package fill

import (
	"log"
	"strings"

	"autobranch/internal/dom"
)

// CopyLabel is the label on the optional copy-to-clipboard control.
const CopyLabel = "Copy"

// Writer sets a target field's value and mimics user input so the host's
// state management observes the change.
type Writer struct {
	tree        dom.Tree
	copyControl bool
}

// New returns a Writer bound to tree. When copyControl is set, a clipboard
// button is attached next to the field after a successful write.
func New(tree dom.Tree, copyControl bool) *Writer {
	return &Writer{tree: tree, copyControl: copyControl}
}

// Fill writes value into input unless the field already has content; a field
// the user (or a previous episode) filled is never overwritten. Returns
// whether a write happened.
func (w *Writer) Fill(input dom.Node, value string) (bool, error) {
	if strings.TrimSpace(w.tree.Value(input)) != "" {
		return false, nil
	}

	if err := w.tree.SetValue(input, value); err != nil {
		return false, err
	}

	// Focus and full selection so the user can immediately edit or replace.
	if err := w.tree.FocusAndSelect(input); err != nil {
		log.Printf("focus after fill failed: %v", err)
	}

	if w.copyControl {
		if err := w.tree.AttachCopyControl(input, CopyLabel); err != nil {
			log.Printf("copy control attach failed: %v", err)
		}
	}

	return true, nil
}
