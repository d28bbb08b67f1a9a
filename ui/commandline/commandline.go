/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package commandline provides terminal rendering of dagpipe graphs and
// preparation runs: structural summary tables and progress bars. It only
// needs read access to the graph's node/edge enumeration.
package commandline

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/dagpipe/graph"
	"github.com/gomlx/dagpipe/ml/prepare"
	"github.com/schollz/progressbar/v3"
)

var (
	tableBorderColor = "#7f7f7f"

	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
)

// GraphSummary renders a structural summary of the graph as a table: one row
// per node, in topological order, with its kind, name and wiring.
func GraphSummary(g *graph.Graph) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	table.Headers("#", "Kind", "Name", "Type", "Parents", "Children")
	outputs := make(map[graph.NodeId]bool)
	for _, id := range g.OutputIds() {
		outputs[id] = true
	}
	for id, node := range g.Nodes() {
		name := node.Name()
		if outputs[graph.NodeId(id)] {
			name += " (output)"
		}
		table.Row(
			strconv.Itoa(id),
			graph.KindOf(node),
			name,
			fmt.Sprintf("%T", node),
			strconv.Itoa(len(node.Parents())),
			strconv.Itoa(len(g.Children(node))),
		)
	}
	header := fmt.Sprintf("Graph: %s node(s), %s placeholder(s), %s output(s), reduction=%s\n",
		humanize.Comma(int64(g.NumNodes())), humanize.Comma(int64(len(g.Placeholders()))),
		humanize.Comma(int64(len(g.OutputIds()))), g.ReductionLevel())
	return header + table.Render() + "\n"
}

// FprintGraphSummary writes GraphSummary to w.
func FprintGraphSummary(w io.Writer, g *graph.Graph) {
	_, _ = io.WriteString(w, GraphSummary(g))
}

// PrintGraphSummary writes GraphSummary to stdout.
func PrintGraphSummary(g *graph.Graph) {
	FprintGraphSummary(os.Stdout, g)
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the
// graphical symbols are supported.
var ProgressbarStyle = progressbar.ThemeASCII

// AttachProgressBar displays a progress bar for the preparation run,
// restarted at each streaming pass. numExamples is how many examples one
// pass covers; pass 0 if unknown (the bar then shows a spinner).
//
// It returns the updated Preparation, so calls can be cascaded.
func AttachProgressBar(p *prepare.Preparation, numExamples int64) *prepare.Preparation {
	var bar *progressbar.ProgressBar
	lastPass := -1
	return p.OnProgress(func(pass int, examples int64) {
		if pass != lastPass {
			if bar != nil {
				_ = bar.Finish()
			}
			total := numExamples
			if total == 0 {
				total = -1 // Spinner.
			}
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription(
					fmt.Sprintf("pass #%d (%s examples)", pass, humanize.Comma(numExamples))),
				progressbar.OptionSetTheme(ProgressbarStyle),
				progressbar.OptionShowCount(),
				progressbar.OptionUseANSICodes(true),
			)
			lastPass = pass
		}
		_ = bar.Set64(examples)
	})
}
