package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sbl8/harmonics"
	"github.com/sbl8/harmonics/graphdiff"
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/serialize"
)

func loadGraph(path string) (*ir.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return serialize.ReadGraph(f)
}

func saveGraph(path string, g *ir.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return serialize.WriteGraph(f, g)
}

func newCompileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile <src>",
		Short: "Parse DSL source and persist the graph IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, err := harmonics.Compile(string(src))
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(args[0], ".hgs") + ".hgr"
			}
			if err := saveGraph(out, g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d nodes, %d lines)\n", out, g.NodeCount(), len(g.Cycle))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: <src> with .hgs replaced by .hgr)")
	return cmd
}

func printGraphInfo(w io.Writer, g *ir.Graph) {
	dump := func(label string, nodes []ir.Node) {
		for _, n := range nodes {
			if n.HasWidth {
				fmt.Fprintf(w, "%s %s {%d}\n", label, n.Name, n.Width)
			} else {
				fmt.Fprintf(w, "%s %s\n", label, n.Name)
			}
		}
	}
	dump("producer", g.Producers)
	dump("consumer", g.Consumers)
	dump("layer", g.Layers)
	for _, line := range g.Cycle {
		for _, a := range line.Arrows {
			dir := "->"
			if a.Backward {
				dir = "<-"
			}
			fn := ""
			if a.HasFunc {
				fn = "(" + a.Function + ")"
			}
			fmt.Fprintf(w, "%s %s%s %s\n", g.Name(line.Source), dir, fn, g.Name(a.Target))
		}
	}
}

func newGraphInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph-info <graph>",
		Short: "List a graph's nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			printGraphInfo(cmd.OutOrStdout(), g)
			return nil
		},
	}
}

func newGraphDiffCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "graph-diff {diff|merge} <g1> <g2>",
		Short: "Compare or merge two graph IR files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadGraph(args[1])
			if err != nil {
				return err
			}
			b, err := loadGraph(args[2])
			if err != nil {
				return err
			}
			switch args[0] {
			case "diff":
				for _, c := range graphdiff.Diff(a, b) {
					fmt.Fprintln(cmd.OutOrStdout(), c)
				}
				return nil
			case "merge":
				merged, err := graphdiff.Merge(a, b)
				if err != nil {
					return err
				}
				if out == "" {
					out = "merged.hgr"
				}
				if err := saveGraph(out, merged); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
				return nil
			default:
				return fmt.Errorf("unknown mode %q, want diff or merge", args[0])
			}
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "merge output path")
	return cmd
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive graph inspection (load, info, quit)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var g *ir.Graph
			out := cmd.OutOrStdout()
			sc := bufio.NewScanner(os.Stdin)
			fmt.Fprintln(out, "harmonics shell — commands: load <path> | info | quit")
			for {
				fmt.Fprint(out, "> ")
				if !sc.Scan() {
					return sc.Err()
				}
				fields := strings.Fields(sc.Text())
				if len(fields) == 0 {
					continue
				}
				switch fields[0] {
				case "load":
					if len(fields) != 2 {
						fmt.Fprintln(out, "usage: load <path>")
						continue
					}
					loaded, err := loadGraph(fields[1])
					if err != nil {
						fmt.Fprintln(out, "error:", err)
						continue
					}
					g = loaded
					fmt.Fprintf(out, "loaded %d nodes, %d lines\n", g.NodeCount(), len(g.Cycle))
				case "info":
					if g == nil {
						fmt.Fprintln(out, "no graph loaded")
						continue
					}
					printGraphInfo(out, g)
				case "quit", "exit":
					return nil
				default:
					fmt.Fprintln(out, "unknown command:", fields[0])
				}
			}
		},
	}
}
