//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
)

// DOT layout directions and image formats.
const (
	RankDirLR = "LR"
	RankDirTB = "TB"

	ImageFormatPNG = "png"
	ImageFormatSVG = "svg"
)

const (
	shapeBox     = "box"
	shapeDiamond = "diamond"
	shapeOval    = "oval"

	colorLLMFill       = "#e3f2fd"
	colorLLMBorder     = "#2196f3"
	colorToolFill      = "#fff3e0"
	colorToolBorder    = "#ff9800"
	colorRouterFill    = "#eeeeee"
	colorRouterBorder  = "#757575"
	colorDefaultFill   = "#f3e5f5"
	colorDefaultBorder = "#9c27b0"
	colorStartFill     = "#e1f5e1"
	colorStartBorder   = "#4caf50"
	colorEndFill       = "#ffe1e1"
	colorEndBorder     = "#f44336"
	colorInterrupt     = "#d32f2f"

	colorConditionalEdge = "#999999"
	colorDestinationEdge = "#aaaaaa"
)

// VizOptions configures DOT export.
type VizOptions struct {
	// RankDir is "LR" or "TB".
	RankDir string
	// IncludeDestinations draws the GoTo destinations declared with
	// WithDestinations as dotted edges.
	IncludeDestinations bool
	// IncludeStartEnd draws the virtual Start and End nodes.
	IncludeStartEnd bool
	// GraphLabel labels the whole graph.
	GraphLabel string
}

// VizOption mutates VizOptions.
type VizOption func(*VizOptions)

// WithRankDir sets the layout direction. Other values are ignored.
func WithRankDir(dir string) VizOption {
	return func(o *VizOptions) {
		if dir == RankDirLR || dir == RankDirTB {
			o.RankDir = dir
		}
	}
}

// WithIncludeDestinations toggles rendering of declared destinations.
func WithIncludeDestinations(include bool) VizOption {
	return func(o *VizOptions) { o.IncludeDestinations = include }
}

// WithIncludeStartEnd toggles rendering of Start and End.
func WithIncludeStartEnd(include bool) VizOption {
	return func(o *VizOptions) { o.IncludeStartEnd = include }
}

// WithGraphLabel sets a label for the graph.
func WithGraphLabel(label string) VizOption {
	return func(o *VizOptions) { o.GraphLabel = label }
}

// DOT returns a Graphviz rendering of the compiled graph. Nodes are styled
// by type, conditional edges are dashed and labelled with their key, and
// nodes carrying a static interrupt get a red double border.
func (g *Graph) DOT(opts ...VizOption) string {
	o := &VizOptions{RankDir: RankDirLR, IncludeDestinations: true, IncludeStartEnd: true}
	for _, fn := range opts {
		fn(o)
	}

	var b strings.Builder
	b.WriteString("digraph G {\n")
	fmt.Fprintf(&b, "  rankdir=%s;\n", o.RankDir)
	b.WriteString("  node [fontname=\"Helvetica\"];\n  edge [fontname=\"Helvetica\"];\n")
	if o.GraphLabel != "" {
		fmt.Fprintf(&b, "  label=\"%s\";\n  labelloc=t;\n", escapeDOT(o.GraphLabel))
	}
	if o.IncludeStartEnd {
		fmt.Fprintf(&b, "  \"%s\" [label=\"start\", shape=%s, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			Start, shapeOval, colorStartFill, colorStartBorder)
		fmt.Fprintf(&b, "  \"%s\" [label=\"end\", shape=%s, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			End, shapeOval, colorEndFill, colorEndBorder)
	}

	for _, n := range g.nodes {
		label := n.Label
		if label == "" {
			label = n.Name
		}
		shape, fill, color := styleForNodeType(n.Type)
		extra := ""
		if g.before[n.ID] || g.after[n.ID] {
			extra = fmt.Sprintf(", peripheries=2, color=\"%s\"", colorInterrupt)
		} else if !o.IncludeStartEnd && n.ID == g.entry {
			extra = ", peripheries=2"
		}
		fmt.Fprintf(&b, "  \"%s\" [label=\"%s\", shape=%s, style=filled, fillcolor=\"%s\", color=\"%s\"%s];\n",
			escapeDOT(n.Name), escapeDOT(label), shape, fill, color, extra)
	}

	if o.IncludeStartEnd {
		fmt.Fprintf(&b, "  \"%s\" -> \"%s\";\n", Start, escapeDOT(g.Entry()))
	}
	for _, n := range g.nodes {
		for _, to := range g.edges[n.ID] {
			if to == EndNode && !o.IncludeStartEnd {
				continue
			}
			fmt.Fprintf(&b, "  \"%s\" -> \"%s\";\n", escapeDOT(n.Name), escapeDOT(g.NodeName(to)))
		}
	}
	for _, n := range g.nodes {
		ce := g.conditional[n.ID]
		if ce == nil {
			continue
		}
		for _, key := range g.conditionalTargets(n.ID) {
			to := ce.mapping[key]
			if to == EndNode && !o.IncludeStartEnd {
				continue
			}
			fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dashed, color=\"%s\", label=\"%s\"];\n",
				escapeDOT(n.Name), escapeDOT(g.NodeName(to)), colorConditionalEdge, escapeDOT(key))
		}
	}
	if o.IncludeDestinations {
		for _, n := range g.nodes {
			dests := append([]string(nil), n.destinations...)
			sort.Strings(dests)
			for _, to := range dests {
				if to == End && !o.IncludeStartEnd {
					continue
				}
				fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dotted, color=\"%s\", constraint=false];\n",
					escapeDOT(n.Name), escapeDOT(to), colorDestinationEdge)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// WriteDOT writes the DOT representation to w.
func (g *Graph) WriteDOT(w io.Writer, opts ...VizOption) error {
	_, err := io.WriteString(w, g.DOT(opts...))
	return err
}

// RenderImage renders the graph with the Graphviz dot binary.
func (g *Graph) RenderImage(ctx context.Context, format, outputPath string, opts ...VizOption) error {
	if format == "" {
		format = ImageFormatPNG
	}
	dotPath, err := exec.LookPath("dot")
	if err != nil {
		return fmt.Errorf("graphviz 'dot' binary not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, dotPath, "-T"+format, "-o", outputPath)
	cmd.Stdin = bytes.NewBufferString(g.DOT(opts...))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("dot render failed: %w, output: %s", err, out)
	}
	return nil
}

func styleForNodeType(nt NodeType) (shape, fill, color string) {
	switch nt {
	case NodeTypeLLM:
		return shapeBox, colorLLMFill, colorLLMBorder
	case NodeTypeTool:
		return shapeBox, colorToolFill, colorToolBorder
	case NodeTypeRouter:
		return shapeDiamond, colorRouterFill, colorRouterBorder
	default:
		return shapeBox, colorDefaultFill, colorDefaultBorder
	}
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return strings.ReplaceAll(s, "\n", "\\n")
}
