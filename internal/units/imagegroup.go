package units

import "github.com/weftrun/weft/internal/identity"

// GroupImages batches doc.Blobs into ImageGroups of groupSize, preserving
// document order. A trailing group smaller than groupSize is emitted as-is
// (spec §4.4). groupSize <= 0 is treated as 1.
func GroupImages(h *identity.Hasher, doc Document, groupSize int, caption string) []ImageGroup {
	if groupSize <= 0 {
		groupSize = 1
	}
	if len(doc.Blobs) == 0 {
		return nil
	}

	var groups []ImageGroup
	for start := 0; start < len(doc.Blobs); start += groupSize {
		end := start + groupSize
		if end > len(doc.Blobs) {
			end = len(doc.Blobs)
		}
		members := doc.Blobs[start:end]

		ids := make([]byte, 0, 32*len(members))
		for _, b := range members {
			ids = append(ids, []byte(b.ID)...)
		}
		groupID := h.BlobID(doc.ID, "application/vnd.weft.image-group", ids)

		groups = append(groups, ImageGroup{
			ID:      groupID,
			DocID:   doc.ID,
			Blobs:   append([]Blob(nil), members...),
			Caption: caption,
		})
	}
	return groups
}
