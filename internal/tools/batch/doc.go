// Package batch provides common utilities for batch operations across MCP tools.
//
// Several tools accept a single value or an array for the same argument:
// get_notebook_content takes one notebook ID or many, install_package takes
// one package spec or a list. This package includes helpers for:
//   - Parsing parameters that accept both single values and arrays
//   - Validating every value up front before any work starts
//   - Formatting batch results in a consistent structure
//   - Handling partial failures in batch operations
package batch
