package relay

import "github.com/mossy-p/coderoom/internal/models"

// RelayNewFile forwards a file announcement. Receivers keep their own copy
// if they already have the filename.
func (r *Relay) RelayNewFile(from string, p models.NewFile) error {
	return r.forward(from, p.RoomID, models.EventNewFile, models.RelayedNewFile{File: p.File, From: from})
}

// RelayCodeDiff forwards an incremental patch.
func (r *Relay) RelayCodeDiff(from string, p models.CodeDiff) error {
	return r.forward(from, p.RoomID, models.EventCodeDiff, models.RelayedCodeDiff{
		Filename: p.Filename,
		Patch:    p.Patch,
		From:     from,
	})
}

// RelayCodeFullSync forwards an authoritative snapshot of a file.
func (r *Relay) RelayCodeFullSync(from string, p models.CodeFullSync) error {
	return r.forward(from, p.RoomID, models.EventCodeFullSync, models.RelayedContent{
		Filename: p.Filename,
		Content:  p.Content,
		From:     from,
	})
}

// RelayRunCode tells peers that the sender ran a file, with the content
// that was executed.
func (r *Relay) RelayRunCode(from string, p models.CodeFullSync) error {
	return r.forward(from, p.RoomID, models.EventRunCode, models.RelayedContent{
		Filename: p.Filename,
		Content:  p.Content,
		From:     from,
	})
}
