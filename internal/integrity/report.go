package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tracklist/tracklist/internal/artwork"
)

// reportTimeLayout names report files, e.g. integrity_report_20250301_120000.json.
const reportTimeLayout = "20060102_150405"

// RowRef identifies one ledger row and its file.
type RowRef struct {
	RowID   int64           `json:"record_id"`
	AlbumID int64           `json:"album_id"`
	Variant artwork.Variant `json:"size_variant"`
	Path    string          `json:"file_path"`
}

// SizeMismatch is a row whose recorded size differs from its file.
type SizeMismatch struct {
	RowRef
	Expected int64 `json:"expected_size"`
	Actual   int64 `json:"actual_size"`
}

// Corrupted is a sampled row whose file does not decode.
type Corrupted struct {
	RowRef
	Error string `json:"error"`
}

// OrphanFile is a file with no ledger row.
type OrphanFile struct {
	Variant artwork.Variant `json:"size_variant"`
	Key     string          `json:"cache_key"`
	Path    string          `json:"file_path"`
	Size    int64           `json:"size"`
}

// VariantGap is a cached album without the full variant set.
type VariantGap struct {
	AlbumID     int64             `json:"album_id"`
	Missing     []artwork.Variant `json:"missing"`
	HasOriginal bool              `json:"has_original"`

	Album artwork.Album `json:"-"`
}

// CanRebuild reports whether the gap can be filled from the stored original.
func (g VariantGap) CanRebuild() bool {
	if !g.HasOriginal {
		return false
	}
	for _, v := range g.Missing {
		if v == artwork.Original {
			return false
		}
	}
	return true
}

// MarshalJSON adds can_rebuild to the encoded gap.
func (g VariantGap) MarshalJSON() ([]byte, error) {
	type plain VariantGap
	return json.Marshal(struct {
		plain
		CanRebuild bool `json:"can_rebuild"`
	}{plain(g), g.CanRebuild()})
}

// Repair is one completed repair action. Count is set for bulk actions.
type Repair struct {
	Action  string          `json:"type"`
	RowID   int64           `json:"record_id,omitempty"`
	AlbumID int64           `json:"album_id,omitempty"`
	Variant artwork.Variant `json:"variant,omitempty"`
	Path    string          `json:"file_path,omitempty"`
	Count   int             `json:"count,omitempty"`
}

// FailedRepair is a repair action that did not complete.
type FailedRepair struct {
	Repair
	Error string `json:"error"`
}

// Summary holds the headline counts.
type Summary struct {
	TotalRecords     int `json:"total_records"`
	ValidFiles       int `json:"valid_files"`
	Sampled          int `json:"sampled_files"`
	IssuesFound      int `json:"issues_found"`
	RepairsCompleted int `json:"repairs_completed"`
	RepairsFailed    int `json:"repairs_failed"`
}

// IssueCounts counts findings per check.
type IssueCounts struct {
	MissingFiles    int `json:"missing_files"`
	CorruptedFiles  int `json:"corrupted_files"`
	OrphanedFiles   int `json:"orphaned_files"`
	SizeMismatches  int `json:"size_mismatches"`
	MissingVariants int `json:"missing_variants"`
}

// Total is the sum of all findings.
func (c IssueCounts) Total() int {
	return c.MissingFiles + c.CorruptedFiles + c.OrphanedFiles + c.SizeMismatches + c.MissingVariants
}

func (c IssueCounts) asMap() map[string]int {
	return map[string]int{
		"missing_files":    c.MissingFiles,
		"corrupted_files":  c.CorruptedFiles,
		"orphaned_files":   c.OrphanedFiles,
		"size_mismatches":  c.SizeMismatches,
		"missing_variants": c.MissingVariants,
	}
}

// Report is the result of one audit. Findings describe the cache as it was
// before any repair.
type Report struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
	Repair    bool          `json:"repair"`
	Score     float64       `json:"integrity_score"`
	Summary   Summary       `json:"summary"`
	Issues    IssueCounts   `json:"issues"`

	MissingFiles    []RowRef       `json:"missing_files,omitempty"`
	SizeMismatches  []SizeMismatch `json:"size_mismatches,omitempty"`
	CorruptedFiles  []Corrupted    `json:"corrupted_files,omitempty"`
	OrphanedFiles   []OrphanFile   `json:"orphaned_files,omitempty"`
	MissingVariants []VariantGap   `json:"missing_variants,omitempty"`
	Repairs         []Repair       `json:"repaired,omitempty"`
	FailedRepairs   []FailedRepair `json:"failed_repairs,omitempty"`
	Errors          []string       `json:"errors,omitempty"`

	// Path is where the report was written.
	Path string `json:"-"`
}

// Score converts an issue count into a 0 to 100 score. An empty ledger
// scores 100.
func Score(issues, total int) float64 {
	if total == 0 {
		return 100
	}
	return max(0, 100-float64(issues)/float64(total)*100)
}

func (r *Report) finish(start, end time.Time) {
	r.Timestamp = end.UTC()
	r.Duration = end.Sub(start)
	r.Issues = IssueCounts{
		MissingFiles:    len(r.MissingFiles),
		CorruptedFiles:  len(r.CorruptedFiles),
		OrphanedFiles:   len(r.OrphanedFiles),
		SizeMismatches:  len(r.SizeMismatches),
		MissingVariants: len(r.MissingVariants),
	}
	r.Summary.IssuesFound = r.Issues.Total()
	r.Summary.RepairsCompleted = len(r.Repairs)
	r.Summary.RepairsFailed = len(r.FailedRepairs)
	r.Score = Score(r.Summary.IssuesFound, r.Summary.TotalRecords)
}

func (r *Report) repaired(action string, rowID, albumID int64, v artwork.Variant, path string) {
	r.Repairs = append(r.Repairs, Repair{Action: action, RowID: rowID, AlbumID: albumID, Variant: v, Path: path})
}

func (r *Report) failed(action string, rowID, albumID int64, v artwork.Variant, path string, err error) {
	r.FailedRepairs = append(r.FailedRepairs, FailedRepair{
		Repair: Repair{Action: action, RowID: rowID, AlbumID: albumID, Variant: v, Path: path},
		Error:  err.Error(),
	})
}

func (r *Report) repairCounts() map[string]int {
	counts := make(map[string]int)
	for _, rp := range r.Repairs {
		counts[rp.Action] += max(rp.Count, 1)
	}
	return counts
}

// ReportFileName returns the file name of a report taken at t.
func ReportFileName(t time.Time) string {
	return fmt.Sprintf("integrity_report_%s.json", t.UTC().Format(reportTimeLayout))
}

func (r *Report) save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode integrity report: %w", err)
	}
	path := filepath.Join(dir, ReportFileName(r.Timestamp))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write integrity report: %w", err)
	}
	return path, nil
}
