package trust

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lionlock/lionlock/internal/canonical"
)

// AppendRecord validates the record and appends it to the day's JSONL
// file under baseDir, creating directories as needed. Serialization is
// canonical, so identical records produce identical lines.
func AppendRecord(record Record, baseDir string) (string, error) {
	record = record.Sanitize()
	if err := record.Validate(); err != nil {
		return "", err
	}
	path := dailyPath(baseDir, "trust_overlay", time.Now().UTC())
	if err := appendLine(path, record.Map()); err != nil {
		return "", err
	}
	return path, nil
}

// AppendAnnotation appends an operator annotation to the day's
// annotations file. Annotations are scrubbed but not schema-validated.
func AppendAnnotation(annotation map[string]any, baseDir string) (string, error) {
	scrubbed := scrubMap(annotation)
	path := dailyPath(baseDir, "annotations", time.Now().UTC())
	if err := appendLine(path, scrubbed); err != nil {
		return "", err
	}
	return path, nil
}

func dailyPath(baseDir, prefix string, date time.Time) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s_%s.jsonl", prefix, date.Format("2006-01-02")))
}

func appendLine(path string, entry map[string]any) error {
	data, err := canonical.Marshal(entry)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
