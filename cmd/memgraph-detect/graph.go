package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/nuka-memgraph/internal/graph"
	"github.com/nidhogg/nuka-memgraph/internal/relation"
	"github.com/spf13/cobra"
)

var (
	useNeo4j      bool
	edgeDirection string
	filterTypes   []string
	minConfidence float64
	edgeLimit     int
	maxDepth      int
	hcThreshold   float64
	hcLimit       int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count relationships by type and confidence tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := backends.Store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var highCmd = &cobra.Command{
	Use:   "high-confidence",
	Short: "List the strongest relationships",
	RunE: func(cmd *cobra.Command, args []string) error {
		rels, err := backends.Store.HighConfidence(cmd.Context(), hcThreshold, hcLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, rels)
	},
}

var edgesCmd = &cobra.Command{
	Use:   "edges <id>",
	Short: "List stored edges of an observation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		f, err := filterFromFlags()
		if err != nil {
			return err
		}
		var rels []relation.Relationship
		switch edgeDirection {
		case "out":
			rels, err = backends.Store.BySource(cmd.Context(), id, f)
		case "in":
			rels, err = backends.Store.ByTarget(cmd.Context(), id, f)
		case "both":
			rels, err = backends.Store.EdgesFor(cmd.Context(), id, f)
		default:
			return fmt.Errorf("direction must be out, in or both")
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, rels)
	},
}

var traverseCmd = &cobra.Command{
	Use:   "traverse <id>",
	Short: "Breadth-first walk from an observation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		engine, f, err := engineFromFlags()
		if err != nil {
			return err
		}
		res, err := engine.Traverse(cmd.Context(), id, maxDepth, f)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Shortest relationship path between two observations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseID(args[0])
		if err != nil {
			return err
		}
		to, err := parseID(args[1])
		if err != nil {
			return err
		}
		engine, f, err := engineFromFlags()
		if err != nil {
			return err
		}
		p, err := engine.ShortestPath(cmd.Context(), from, to, maxDepth, f)
		if err != nil {
			return err
		}
		return printJSON(cmd, p)
	},
}

// engineFromFlags serves traversals from PostgreSQL, or from the Neo4j mirror
// with --neo4j.
func engineFromFlags() (*graph.Engine, relation.Filter, error) {
	f, err := filterFromFlags()
	if err != nil {
		return nil, f, err
	}
	var src graph.EdgeSource = backends.Store
	if useNeo4j {
		if backends.Mirror == nil {
			return nil, f, fmt.Errorf("--neo4j needs a reachable database.neo4j.uri")
		}
		src = backends.Mirror
	}
	return graph.NewEngine(src, cfg.Graph, logger), f, nil
}

func filterFromFlags() (relation.Filter, error) {
	f := relation.Filter{MinConfidence: minConfidence, Limit: edgeLimit}
	for _, s := range filterTypes {
		t, err := relation.ParseType(strings.TrimSpace(s))
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	return f, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid observation id %q", s)
	}
	return id, nil
}

func init() {
	highCmd.Flags().Float64Var(&hcThreshold, "threshold", 0.85, "minimum confidence")
	highCmd.Flags().IntVar(&hcLimit, "limit", 50, "maximum edges")

	for _, c := range []*cobra.Command{edgesCmd, traverseCmd, pathCmd} {
		c.Flags().StringSliceVar(&filterTypes, "types", nil, "relationship types to follow")
		c.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum edge confidence")
	}
	edgesCmd.Flags().StringVar(&edgeDirection, "direction", "both", "out, in or both")
	edgesCmd.Flags().IntVar(&edgeLimit, "limit", 0, "maximum edges (0 = all)")
	for _, c := range []*cobra.Command{traverseCmd, pathCmd} {
		c.Flags().IntVar(&maxDepth, "depth", 0, "maximum hops (0 = configured limit)")
		c.Flags().BoolVar(&useNeo4j, "neo4j", false, "read edges from the Neo4j mirror")
	}

	rootCmd.AddCommand(statsCmd, highCmd, edgesCmd, traverseCmd, pathCmd)
}
