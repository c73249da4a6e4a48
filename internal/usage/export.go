package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"wormhole/internal/domain"
)

// ExportRecord is the JSON form of one usage record.
type ExportRecord struct {
	App       domain.AppID     `json:"app"`
	Mailbox   domain.MailboxID `json:"mailbox"`
	Nameplate domain.Nameplate `json:"nameplate,omitempty"`
	Started   time.Time        `json:"started"`
	Waiting   float64          `json:"waiting_time"`
	Total     float64          `json:"total_time"`
	Sides     int              `json:"sides"`
	Moods     []domain.Mood    `json:"moods,omitempty"`
	Result    domain.Result    `json:"result"`
}

// Export is the document written by Store.Export.
type Export struct {
	Generated time.Time             `json:"generated"`
	Summary   map[domain.Result]int `json:"summary"`
	Records   []ExportRecord        `json:"records"`
}

// BuildExport renders recs as an Export document.
func BuildExport(recs []domain.UsageRecord, now time.Time) Export {
	e := Export{
		Generated: now.UTC(),
		Summary:   make(map[domain.Result]int),
		Records:   make([]ExportRecord, 0, len(recs)),
	}
	for _, r := range recs {
		e.Summary[r.Result]++
		e.Records = append(e.Records, ExportRecord{
			App:       r.App,
			Mailbox:   r.Mailbox,
			Nameplate: r.Nameplate,
			Started:   r.Started.UTC(),
			Waiting:   r.Waiting.Seconds(),
			Total:     r.Total.Seconds(),
			Sides:     r.Sides,
			Moods:     r.Moods,
			Result:    r.Result,
		})
	}
	return e
}

// Export writes every record since since to path as indented JSON. The file
// is replaced atomically.
func (s *Store) Export(path string, since time.Time) error {
	recs, err := s.Records(since)
	if err != nil {
		return err
	}
	return writeJSON(path, BuildExport(recs, time.Now()), 0o644)
}

// writeJSON writes JSON via a temp file then rename.
func writeJSON(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, b, mode)
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
