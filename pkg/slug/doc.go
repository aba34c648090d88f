// Package slug generates URL-safe identifiers from display names, with an
// optional random suffix for collision handling. Club slugs are derived from
// user-supplied club names, so the transformation must be total: any input
// produces a usable slug.
package slug
