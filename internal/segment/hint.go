package segment

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arfanq/barreldb/pkg/atomicfile"
)

// hint is the JSON shape persisted to segment_<id>.hint. Field names match
// the on-disk contract exactly.
type hint struct {
	ID             int    `json:"id"`
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	Entries        int    `json:"entries"`
	MaxSize        int64  `json:"max_size"`
	MaxEntries     int    `json:"max_entries"`
	Active         int    `json:"active"`
	Closed         int    `json:"closed"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastSyncedAtMs int64  `json:"last_synced_at_ms"`
}

func hintPath(dir string, id int) string {
	return fmt.Sprintf("%s/segment_%d.hint", dir, id)
}

func readHint(dir string, id int) (*hint, error) {
	data, err := os.ReadFile(hintPath(dir, id))
	if err != nil {
		return nil, err
	}

	var h hint
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}

	return &h, nil
}

func writeHint(dir string, h *hint) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}

	return atomicfile.Write(hintPath(dir, h.ID), data)
}
