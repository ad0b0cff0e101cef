// Package retro clusters a task's incidents by kind, renders retro.md,
// and writes at least one patch proposal under the local patches
// overlay, per spec.md §4.5. retro_run is permitted only from
// ready_approved or blocked and always transitions to retro_done.
package retro

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

// Cluster is one kind's aggregated incidents.
type Cluster struct {
	Kind    domain.IncidentKind
	Count   int
	Samples []domain.Incident
}

// Report is the rendered retro for one task.
type Report struct {
	TaskID      string
	Clusters    []Cluster
	GeneratedAt time.Time
}

// ClusterIncidents groups a task's incidents by kind, sorted by descending count
// then lexically by kind for determinism. At most 3 sample incidents are
// kept per cluster so retro.md stays readable on a noisy task.
func ClusterIncidents(taskID string, incidents []domain.Incident, generatedAt time.Time) Report {
	byKind := make(map[domain.IncidentKind][]domain.Incident)
	for _, inc := range incidents {
		byKind[inc.Kind] = append(byKind[inc.Kind], inc)
	}

	clusters := make([]Cluster, 0, len(byKind))
	for kind, incs := range byKind {
		samples := incs
		if len(samples) > 3 {
			samples = samples[:3]
		}
		clusters = append(clusters, Cluster{Kind: kind, Count: len(incs), Samples: samples})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Kind < clusters[j].Kind
	})

	return Report{TaskID: taskID, Clusters: clusters, GeneratedAt: generatedAt}
}

var retroTemplate = template.Must(template.New("retro").Parse(`# Retro: {{ .TaskID }}

Generated: {{ .GeneratedAt.Format "2006-01-02T15:04:05Z07:00" }}

{{ if .Clusters -}}
## Incident clusters

| Kind | Count |
|------|-------|
{{- range .Clusters }}
| {{ .Kind }} | {{ .Count }} |
{{- end }}
{{ else -}}
No incidents recorded for this task.
{{ end }}
`))

// RenderMarkdown writes retro.md for a task at its standard path.
func RenderMarkdown(root pathio.Root, modulePath, taskID string, report Report) error {
	var buf strings.Builder
	if err := retroTemplate.Execute(&buf, report); err != nil {
		return fmt.Errorf("retro: render template: %w", err)
	}
	return pathio.AtomicWrite(root.RetroPath(modulePath, taskID), []byte(buf.String()))
}

// PatchProposal is a single suggested follow-up action written to the
// local patches overlay. Even a no-op proposal ("no recurring pattern
// detected") satisfies spec.md §3's "retro.completed implies at least
// one patch-proposal file" invariant.
type PatchProposal struct {
	TaskID      string
	Kind        domain.IncidentKind
	Description string
}

var patchTemplate = template.Must(template.New("patch").Parse(`# Patch proposal: {{ .TaskID }}

{{ if .Kind -}}
Recurring incident kind: {{ .Kind }}
{{ end -}}
{{ .Description }}
`))

// ProposePatch renders the single highest-count cluster (or a no-op
// proposal when there are no incidents) into a timestamped file under
// .csk/local/patches.
func ProposePatch(root pathio.Root, report Report, stamp string) (string, error) {
	proposal := PatchProposal{TaskID: report.TaskID}
	if len(report.Clusters) == 0 {
		proposal.Description = "No recurring incident pattern detected; no process change proposed."
	} else {
		top := report.Clusters[0]
		proposal.Kind = top.Kind
		proposal.Description = fmt.Sprintf(
			"%d incident(s) of kind %q recorded against this task. Consider tightening the profile or slice scope that produces this failure.",
			top.Count, top.Kind)
	}

	var buf strings.Builder
	if err := patchTemplate.Execute(&buf, proposal); err != nil {
		return "", fmt.Errorf("retro: render patch proposal: %w", err)
	}

	path := filepath.Join(root.LocalPatchesPath(), stamp+".md")
	if err := pathio.AtomicWrite(path, []byte(buf.String())); err != nil {
		return "", fmt.Errorf("retro: write patch proposal: %w", err)
	}
	return path, nil
}
