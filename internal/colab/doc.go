// Package colab holds the core domain model for Google Colab automation:
// user sessions backed by persistent Chrome profiles, the per-notebook
// runtime registry, and the error taxonomy shared by the execution
// gateway and the MCP tool layer.
//
// A Session ties a user to exactly one profile directory on disk. The
// session state machine has five states; only four are observable by
// callers (authenticating is a transient internal state):
//
//	unauthenticated -> authenticating -> active
//	active -> expired (token expired or profile removed)
//	any -> cleared (profile deleted)
//
// The invariant maintained by SessionManager: a session is only reported
// active while its token is unexpired and its profile directory exists.
// Every revalidation that finds either condition violated downgrades the
// session to expired.
package colab
