// Package report renders a workspace into a self-contained HTML gallery and
// optionally bundles the pipeline output into a zstd-compressed tar archive
// for sharing.
package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-describe/internal/workspace"
)

// reportTemplate is the gallery page. Image sources are relative file paths;
// the page is meant to be opened from the output directory it sits in.
var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"relpath": func(base, target string) string {
		rel, err := filepath.Rel(base, target)
		if err != nil {
			return target
		}
		return filepath.ToSlash(rel)
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 64rem; color: #1a1a1a; }
  header { margin-bottom: 2rem; }
  header .meta { color: #666; font-size: 0.9rem; }
  .item { display: flex; gap: 1.5rem; margin-bottom: 2rem; border-bottom: 1px solid #e0e0e0; padding-bottom: 2rem; }
  .item img { max-width: 20rem; max-height: 15rem; object-fit: contain; border-radius: 4px; }
  .item .info { flex: 1; }
  .item h2 { font-size: 1rem; margin: 0 0 0.25rem; word-break: break-all; }
  .item .parent { color: #666; font-size: 0.85rem; margin: 0 0 0.75rem; }
  .desc { margin: 0 0 1rem; }
  .desc .tag { color: #666; font-size: 0.8rem; }
  .none { color: #999; font-style: italic; }
</style>
</head>
<body>
<header>
  <h1>{{.Title}}</h1>
  <p class="meta">{{.Provider}} / {{.Model}} &middot; {{.ItemCount}} items &middot; generated {{.Generated.Format "2006-01-02 15:04 MST"}}</p>
</header>
{{range .Items}}
<div class="item">
  <img src="{{relpath $.BaseDir .FilePath}}" alt="{{.FilePath}}" loading="lazy">
  <div class="info">
    <h2>{{.FilePath}}</h2>
    {{if .ParentVideo}}<p class="parent">frame of {{.ParentVideo}}</p>{{end}}
    {{if .Descriptions}}
      {{range .Descriptions}}
      <div class="desc">
        <p>{{.Text}}</p>
        <p class="tag">{{.Provider}} / {{.Model}} / {{.PromptStyle}} &middot; {{.Created.Format "2006-01-02 15:04"}}</p>
      </div>
      {{end}}
    {{else}}
      <p class="none">no description</p>
    {{end}}
  </div>
</div>
{{end}}
</body>
</html>
`))

type reportData struct {
	Title     string
	Provider  string
	Model     string
	ItemCount int
	Generated time.Time
	BaseDir   string
	Items     []*workspace.Item
}

// Generate renders the workspace's describable items as an HTML gallery at
// outPath. The write goes through a temp file and rename so an interrupted
// run never leaves a half-written report.
func Generate(ws *workspace.Workspace, providerName, model, outPath string) error {
	items := ws.DescribableItems()
	data := reportData{
		Title:     "Media Descriptions",
		Provider:  providerName,
		Model:     model,
		ItemCount: len(items),
		Generated: time.Now(),
		BaseDir:   filepath.Dir(outPath),
		Items:     items,
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := reportTemplate.Execute(f, data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to render report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	log.Info().Str("path", outPath).Int("items", len(items)).Msg("Report generated")
	return nil
}
