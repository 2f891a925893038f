// Package paths resolves deployment-dependent locations.
//
// The application is hosted in one of three shapes:
//   - the canonical production host, served from the domain root;
//   - path-prefixed static hosting (for example GitHub Pages), where every
//     asset lives under "/<prefix>";
//   - anything else (local development), served from the root.
//
// Both the agent (app-shell base path) and the page (agent script location)
// derive their paths from the same Deployment description.
package paths
