package notify

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nedpals/davi-felica-agent/idcard"
	"github.com/nedpals/davi-felica-agent/session"
)

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { background: #0c0c0c; color: #f2f2f2; font-family: Menlo, Consolas, monospace; }
td { padding: 0 1em 0 0; white-space: pre; vertical-align: top; }
.INFO { color: #61d6d6; font-weight: bold; }
.SUCCESS { color: #16c60c; font-weight: bold; }
.WARNING { color: #f9f1a5; font-weight: bold; }
.ERROR { color: #e74856; font-weight: bold; }
</style>
</head>
<body>
<table>
{{- range .Entries}}
<tr><td>{{.Time.Format "2006-01-02 15:04:05"}}</td><td class="{{.Level}}">{{.Level}}</td><td>{{.Message}}</td>{{range .Details}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</table>
</body>
</html>
`))

// readRow is one successful read kept for the workbook.
type readRow struct {
	time   time.Time
	tagID  string
	record idcard.StudentRecord
}

// Transcript accumulates operator lines for the whole run and writes them once, at shutdown.
type Transcript struct {
	dir  string
	xlsx bool
	now  func() time.Time

	mu      sync.Mutex
	entries []Entry
	reads   []readRow

	closeOnce sync.Once
	files     []string
	closeErr  error
}

// NewTranscript creates a Transcript that writes into dir. With xlsx set it also writes a
// workbook of the successful reads.
func NewTranscript(dir string, xlsx bool) *Transcript {
	return &Transcript{dir: dir, xlsx: xlsx, now: time.Now}
}

// Append records one operator line.
func (t *Transcript) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Report keeps successful reads for the workbook.
func (t *Transcript) Report(ctx context.Context, ev session.Event) {
	if ev.Type != session.EventReadSuccess || ev.Record == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads = append(t.reads, readRow{time: ev.Time, tagID: ev.TagID, record: *ev.Record})
}

// Entries returns a copy of the recorded lines.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// Close writes log_YYYYMMDDHHMMSS.html, and the .xlsx when enabled. Only the first call writes;
// later calls return the first result.
func (t *Transcript) Close() error {
	t.closeOnce.Do(func() {
		t.files, t.closeErr = t.flush()
	})
	return t.closeErr
}

// Files returns the paths written by Close.
func (t *Transcript) Files() []string {
	return append([]string(nil), t.files...)
}

func (t *Transcript) flush() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	base := filepath.Join(t.dir, "log_"+t.now().Format("20060102150405"))

	var files []string
	var errs []error

	if err := t.writeHTML(base + ".html"); err != nil {
		errs = append(errs, err)
	} else {
		files = append(files, base+".html")
	}

	if t.xlsx {
		if err := t.writeXLSX(base + ".xlsx"); err != nil {
			errs = append(errs, err)
		} else {
			files = append(files, base+".xlsx")
		}
	}

	return files, errors.Join(errs...)
}

func (t *Transcript) writeHTML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	defer f.Close()

	data := struct {
		Title   string
		Entries []Entry
	}{
		Title:   "Reader log " + filepath.Base(path),
		Entries: t.entries,
	}
	if err := transcriptTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("transcript: render %s: %w", path, err)
	}
	return f.Close()
}

const readsSheet = "Reads"

func (t *Transcript) writeXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", readsSheet); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}

	header := []interface{}{"Time", "Card IDm", "Classification", "Role", "Student ID", "Name"}
	if err := f.SetSheetRow(readsSheet, "A1", &header); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	for i, r := range t.reads {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("transcript: %w", err)
		}
		row := []interface{}{
			r.time.Format("2006-01-02 15:04:05"),
			r.tagID,
			r.record.Classification,
			r.record.Role.String(),
			r.record.ID,
			r.record.Name,
		}
		if err := f.SetSheetRow(readsSheet, cell, &row); err != nil {
			return fmt.Errorf("transcript: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("transcript: save %s: %w", path, err)
	}
	return nil
}
