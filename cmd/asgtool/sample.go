// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianASG/services/asg/graph"
	"github.com/AleutianAI/AleutianASG/services/asg/merge"
	"github.com/AleutianAI/AleutianASG/services/asg/schema"
)

func (a *app) sampleCmd() *cobra.Command {
	var (
		classes int
		methods int
		seed    int64
		out     string
		put     string
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate a synthetic arena",
		Long: `Generate a synthetic Java-like program, one class per parallel builder.

Method bodies are drawn from a few statement templates, so the result
contains structural clones. The arena is written to --out, stored under
--put, or both.`,
		Example: `  asgtool sample --classes 16 --methods 10 --out demo.asg
  asgtool sample --seed 7 --put demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" && put == "" {
				return errors.New("one of --out or --put is required")
			}
			if classes < 1 || methods < 1 {
				return errors.New("--classes and --methods must be positive")
			}
			ctx := cmd.Context()

			builders := make([]merge.Builder, classes)
			for i := range builders {
				gen := generator{cat: a.cat, class: i, methods: methods, rng: rand.New(rand.NewSource(seed + int64(i)))}
				builders[i] = gen.build
			}
			res, err := merge.BuildParallel(ctx, a.cat, a.cfg.Workers(), builders, a.factoryOptions()...)
			if err != nil {
				return err
			}
			f := res.Factory

			if out != "" {
				n, err := a.saveFile(ctx, out, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d nodes, %d bytes\n", out, f.NodeCount(), n)
			}
			if put != "" {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				meta, err := store.Put(ctx, put, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s: %d nodes, %d bytes (%d raw)\n",
					put, meta.Nodes, meta.StoredBytes, meta.RawBytes)
			}
			a.log().Debug("sample generated",
				slog.Int("classes", classes),
				slog.Int("methods", methods),
				slog.Int64("seed", seed),
			)
			return nil
		},
	}
	cmd.Flags().IntVar(&classes, "classes", 4, "classes to generate")
	cmd.Flags().IntVar(&methods, "methods", 8, "methods per class")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().StringVarP(&out, "out", "o", "", "snapshot file to write")
	cmd.Flags().StringVar(&put, "put", "", "store the arena under this name")
	return cmd
}

// generator builds one class of the synthetic program.
type generator struct {
	cat     *schema.Catalogue
	class   int
	methods int
	rng     *rand.Rand

	f    *graph.Factory
	path string
	line int32
	err  error
}

func (g *generator) build(ctx context.Context, f *graph.Factory) error {
	g.f = f
	g.path = fmt.Sprintf("src/C%d.java", g.class)

	class := g.node("Class")
	g.position(class)
	g.str(class, "Declaration.name", fmt.Sprintf("C%d", g.class))
	for j := range g.methods {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.add(class, "TypeDeclaration.members", g.method(j))
	}
	return g.err
}

func (g *generator) method(j int) graph.NodeID {
	m := g.node("MethodDeclaration")
	g.position(m)
	g.str(m, "Declaration.name", fmt.Sprintf("m%d", j))
	g.str(m, "MethodDeclaration.returnTypeName", "int")

	param := g.node("Parameter")
	g.str(param, "Declaration.name", g.pick("x", "y", "count"))
	g.str(param, "Parameter.typeName", "int")
	g.add(m, "MethodDeclaration.parameters", param)

	body := g.node("Block")
	g.set(m, "MethodDeclaration.body", body)
	for range 1 + g.rng.Intn(3) {
		g.add(body, "Block.statements", g.statement(param))
	}
	return m
}

func (g *generator) statement(param graph.NodeID) graph.NodeID {
	switch g.rng.Intn(3) {
	case 0:
		// return p + k;
		ret := g.node("Return")
		g.set(ret, "Return.expression", g.sum(param))
		return ret
	case 1:
		// if (p) return p;
		stmt := g.node("If")
		ret := g.node("Return")
		g.set(ret, "Return.expression", g.ref(param))
		g.set(stmt, "If.condition", g.ref(param))
		g.set(stmt, "If.thenStatement", ret)
		return stmt
	default:
		// while (p) { log(p); }
		loop := g.node("While")
		body := g.node("Block")
		call := g.node("MethodInvocation")
		g.str(call, "MethodInvocation.methodName", g.pick("log", "emit"))
		g.add(call, "MethodInvocation.arguments", g.ref(param))
		stmt := g.node("ExpressionStatement")
		g.set(stmt, "ExpressionStatement.expression", call)
		g.add(body, "Block.statements", stmt)
		g.set(loop, "While.condition", g.ref(param))
		g.set(loop, "While.body", body)
		return loop
	}
}

func (g *generator) sum(param graph.NodeID) graph.NodeID {
	bin := g.node("Binary")
	lit := g.node("IntegerLiteral")
	if g.err == nil {
		g.err = g.f.SetInt(lit, g.cat.MustAttr("IntegerLiteral.value"), int32(g.rng.Intn(3)))
	}
	if g.err == nil {
		g.err = g.f.SetInt(bin, g.cat.MustAttr("Binary.operator"), 1)
	}
	g.set(bin, "Binary.leftOperand", g.ref(param))
	g.set(bin, "Binary.rightOperand", lit)
	return bin
}

// ref returns an identifier naming param.
func (g *generator) ref(param graph.NodeID) graph.NodeID {
	ident := g.node("Identifier")
	if g.err == nil {
		var name string
		name, g.err = g.f.String(param, g.cat.MustAttr("Declaration.name"))
		g.str(ident, "Identifier.name", name)
	}
	g.set(ident, "Identifier.refersTo", param)
	return ident
}

func (g *generator) node(kind string) graph.NodeID {
	if g.err != nil {
		return graph.NoNode
	}
	id, err := g.f.Create(g.cat.MustKind(kind))
	if err != nil {
		g.err = err
		return graph.NoNode
	}
	return id
}

// position stamps a declaration with the class file and the next line.
// Statements and expressions stay unpositioned so equal bodies hash equally.
func (g *generator) position(id graph.NodeID) {
	g.line++
	g.str(id, "Positioned.path", g.path)
	if g.err == nil {
		g.err = g.f.SetInt(id, g.cat.MustAttr("Positioned.line"), g.line)
	}
}

func (g *generator) str(id graph.NodeID, attr, v string) {
	if g.err == nil {
		g.err = g.f.SetString(id, g.cat.MustAttr(attr), v)
	}
}

func (g *generator) set(src graph.NodeID, edge string, dst graph.NodeID) {
	if g.err == nil {
		g.err = g.f.SetEdge(src, g.cat.MustEdge(edge), dst)
	}
}

func (g *generator) add(src graph.NodeID, edge string, dst graph.NodeID) {
	if g.err == nil {
		g.err = g.f.AddEdge(src, g.cat.MustEdge(edge), dst)
	}
}

func (g *generator) pick(options ...string) string {
	return options[g.rng.Intn(len(options))]
}
