package prompt

// builtinTemplates maps template filename to content, one per pipeline stage.
var builtinTemplates = map[string]string{
	"idea_definition.md":   ideaDefinitionTemplate,
	"prd.md":               prdTemplate,
	"trd.md":               trdTemplate,
	"feature_breakdown.md": featureBreakdownTemplate,
	"user_story.md":        userStoryTemplate,
}

const ideaDefinitionTemplate = `# Idea Definition

## Raw Idea
{{idea}}

{{#if findings}}
## Agent Findings
{{findings}}
{{/if}}

## Task
Turn the raw idea into a structured idea definition with these sections:

# Problem
What problem is being solved and for whom.

# Goals
The outcomes that define success.

# Scope
What version one includes and what it deliberately leaves out.

Write concise markdown. Do not invent requirements that are not implied by
the idea.
{{#if remediation_feedback}}

## Previous Attempt Feedback
The prior attempt did not pass validation:
{{remediation_feedback}}
{{/if}}
`

const prdTemplate = `# Product Requirements Document

## Idea Definition
{{prior_output}}

{{#if findings}}
## Agent Findings
{{findings}}
{{/if}}
{{#if wave}}

## Execution Wave
This pass targets the {{wave}} wave. Limit requirements to that scope.
{{/if}}

## Task
Produce a PRD with these sections:

# Overview
# Users and Personas
# Functional Requirements
# Non-Functional Requirements
# Out of Scope
# Success Metrics

Every functional requirement gets an identifier (FR-1, FR-2, ...) so later
stages can reference it.
{{#if remediation_feedback}}

## Previous Attempt Feedback
{{remediation_feedback}}
{{/if}}
`

const trdTemplate = `# Technical Requirements Document

## PRD
{{prior_output}}

{{#if findings}}
## Agent Findings
{{findings}}
{{/if}}
{{#if wave}}

## Execution Wave
This pass targets the {{wave}} wave. Limit design to that scope.
{{/if}}

## Task
Produce a TRD with these sections:

# Architecture
# Data Model
# Interfaces
# Security
# Performance
# Risks

Reference PRD requirements by identifier. Flag any requirement that cannot
be satisfied as stated instead of silently reinterpreting it.
{{#if remediation_feedback}}

## Previous Attempt Feedback
{{remediation_feedback}}
{{/if}}
`

const featureBreakdownTemplate = `# Feature Breakdown

## TRD
{{prior_output}}

{{#if findings}}
## Agent Findings
{{findings}}
{{/if}}

## Task
Break the design into independently deliverable features:

# Features
One subsection per feature with: identifier (F-1, F-2, ...), description,
the PRD/TRD items it covers, dependencies on other features, and a
rough size (S/M/L).

Order features so dependencies come first.
{{#if remediation_feedback}}

## Previous Attempt Feedback
{{remediation_feedback}}
{{/if}}
`

const userStoryTemplate = `# User Stories

## Feature Breakdown
{{prior_output}}

{{#if findings}}
## Agent Findings
{{findings}}
{{/if}}

## Task
Write user stories for every feature:

# Stories
One subsection per story: "As a <user>, I want <capability>, so that
<outcome>", followed by Given/When/Then acceptance criteria and the feature
identifier it belongs to.

Stories must be testable; avoid acceptance criteria that cannot be verified.
{{#if remediation_feedback}}

## Previous Attempt Feedback
{{remediation_feedback}}
{{/if}}
`
