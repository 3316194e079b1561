// Package prompts renders the instructions handed to the coding agent at
// each pipeline stage. Every builder is a pure function of its context.
package prompts

import (
	"fmt"
	"strings"
)

// SourceContext feeds the source analysis prompt.
type SourceContext struct {
	SourcePath string
	ReportPath string
}

// TargetContext feeds the target analysis prompt.
type TargetContext struct {
	TargetRepo string
	ReportPath string
}

// MigrationContext feeds the migration prompt.
type MigrationContext struct {
	SourceRepo         string
	TargetRepo         string
	Instructions       string
	ImplementationPlan string
	SourceReportPath   string
	TargetReportPath   string
	// SourcePromptPath and TargetPromptPath point at the analysis prompts.
	// When set, the agent is told to produce a missing report from them.
	SourcePromptPath string
	TargetPromptPath string
	MigrationLogPath string
	PlanPath         string
}

// SourceAnalysis asks the agent to study the source repository and write a
// report to ReportPath.
func SourceAnalysis(ctx SourceContext) string {
	var builder strings.Builder
	builder.WriteString("Analyze the source repository located at ")
	builder.WriteString(ctx.SourcePath)
	builder.WriteString(".\n\nTasks:\n")
	writeSteps(&builder, []string{
		"Describe the overall architecture and the responsibilities of each top-level module.",
		"List the public interfaces, entry points and data formats.",
		"Note external dependencies and how they are used.",
		"Call out behavior that will be hard to reproduce (concurrency, I/O, platform specifics).",
	})
	fmt.Fprintf(&builder, "\nWrite the report as Markdown to %s.\n", ctx.ReportPath)
	builder.WriteString("Do not modify any file in the source repository.")
	return builder.String()
}

// TargetAnalysis asks the agent to study the target repository and write a
// report to ReportPath.
func TargetAnalysis(ctx TargetContext) string {
	var builder strings.Builder
	builder.WriteString("Analyze the target repository located at ")
	builder.WriteString(ctx.TargetRepo)
	builder.WriteString(".\n\nTasks:\n")
	writeSteps(&builder, []string{
		"Summarize what has already been migrated and what is still missing.",
		"Describe the project layout, build commands and test commands.",
		"List failing builds or tests, if any.",
	})
	fmt.Fprintf(&builder, "\nWrite the report as Markdown to %s.\n", ctx.ReportPath)
	builder.WriteString("Do not change any code while analyzing.")
	return builder.String()
}

// Migration builds the main work prompt. An empty ImplementationPlan is
// replaced by a reference to PlanPath.
func Migration(ctx MigrationContext) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "You are migrating code from %s into %s.\n\n", ctx.SourceRepo, ctx.TargetRepo)

	builder.WriteString("Instructions:\n")
	builder.WriteString(strings.TrimSpace(ctx.Instructions))
	builder.WriteString("\n\n")

	builder.WriteString("Context:\n")
	fmt.Fprintf(&builder, "- Source analysis report: %s\n", ctx.SourceReportPath)
	fmt.Fprintf(&builder, "- Target analysis report: %s\n", ctx.TargetReportPath)
	fmt.Fprintf(&builder, "- Migration log: %s\n", ctx.MigrationLogPath)
	if ctx.SourcePromptPath != "" {
		fmt.Fprintf(&builder, "- If the source analysis report is missing, write it first by following %s\n", ctx.SourcePromptPath)
	}
	if ctx.TargetPromptPath != "" {
		fmt.Fprintf(&builder, "- If the target analysis report is missing, write it first by following %s\n", ctx.TargetPromptPath)
	}
	builder.WriteString("\n")

	builder.WriteString("Implementation plan:\n")
	if plan := strings.TrimSpace(ctx.ImplementationPlan); plan != "" {
		builder.WriteString(plan)
		builder.WriteString("\n")
	} else {
		fmt.Fprintf(&builder, "No plan exists yet. Create one at %s listing the remaining work in priority order.\n", ctx.PlanPath)
	}
	builder.WriteString("\n")

	builder.WriteString("Rules:\n")
	builder.WriteString("- Never modify the source repository. Only change files in the target repository.\n\n")

	builder.WriteString("Steps:\n")
	writeSteps(&builder, []string{
		"Pick the highest-priority open item from the implementation plan.",
		"Implement it in the target repository.",
		"Run the build and the tests, and fix what you broke.",
		fmt.Sprintf("Update the implementation plan at %s to reflect progress.", ctx.PlanPath),
		fmt.Sprintf("Append a short entry describing the change to %s.", ctx.MigrationLogPath),
		"Commit the change in the target repository with a descriptive message.",
	})
	return strings.TrimRight(builder.String(), "\n")
}

func writeSteps(builder *strings.Builder, steps []string) {
	for i, step := range steps {
		fmt.Fprintf(builder, "%d) %s\n", i+1, step)
	}
}
