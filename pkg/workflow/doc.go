// Package workflow parses, validates and loads workflow definitions.
//
// Definitions are JSON files of the shape
//
//	{"id": "...", "startNodeId": "...", "nodes": [{"id", "type", ..., "edges": [...]}]}
//
// Loading happens in three stages: JSON-Schema validation of the raw
// document, decoding into typed nodes, then structural validation
// (reachable start node, no dangling edge targets, no duplicate IDs).
// Malformed definitions are rejected with *domain.InvalidWorkflowError;
// nothing malformed reaches the executor.
package workflow
