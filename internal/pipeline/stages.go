package pipeline

import (
	"context"

	"github.com/myriadexport/myriad-export/internal/compiler"
	"github.com/myriadexport/myriad-export/internal/exporter"
	"github.com/myriadexport/myriad-export/internal/loader"
	"github.com/myriadexport/myriad-export/internal/optimizer"
	"github.com/myriadexport/myriad-export/internal/simplifier"
)

type loadStage struct {
	loader *loader.Loader
}

func (s *loadStage) Name() string { return string(StateLoad) }

// Run fails with SentinelStatus whatever the cause: a model that cannot be
// loaded has no meaningful tool status.
func (s *loadStage) Run(ctx context.Context, run *Run) error {
	m, err := s.loader.Load(ctx, run.Request)
	if err != nil {
		return &StageError{Stage: s.Name(), Status: SentinelStatus, Err: err}
	}
	run.Model = m
	if m.ONNX {
		run.Graph = m.Path
	}
	return nil
}

type exportStage struct {
	exporter *exporter.Exporter
}

func (s *exportStage) Name() string { return string(StateExport) }

func (s *exportStage) Run(ctx context.Context, run *Run) error {
	output := run.Workspace.ExportedGraphPath(run.Request.ModelName())
	if err := s.exporter.Export(ctx, run.Model, output); err != nil {
		return err
	}
	run.Graph = output
	return nil
}

type simplifyStage struct {
	simplifier *simplifier.Simplifier
}

func (s *simplifyStage) Name() string { return string(StateSimplify) }

func (s *simplifyStage) Run(ctx context.Context, run *Run) error {
	output := run.Workspace.GraphPath(run.Request.ModelName())
	if _, err := s.simplifier.Simplify(ctx, run.Graph, output); err != nil {
		return err
	}
	run.Graph = output
	return nil
}

type optimizeStage struct {
	optimizer *optimizer.Optimizer
}

func (s *optimizeStage) Name() string { return string(StateOptimize) }

func (s *optimizeStage) Run(ctx context.Context, run *Run) error {
	ir, err := s.optimizer.Optimize(ctx, run.Graph, run.Workspace.Dir(), run.Request)
	if err != nil {
		return err
	}
	run.IR = ir
	return nil
}

type compileStage struct {
	compiler *compiler.Compiler
}

func (s *compileStage) Name() string { return string(StateCompile) }

func (s *compileStage) Run(ctx context.Context, run *Run) error {
	artifact, err := s.compiler.Compile(ctx, run.IR, run.Request)
	if err != nil {
		return err
	}
	run.Artifact = artifact
	return nil
}
