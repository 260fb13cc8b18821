// Package dashboard embeds the web UI served at "/".
//
// The page subscribes to /api/sse and renders one card per watch, with a
// spinner while a request is in flight and a refresh button that posts to
// /api/watches/{name}/refresh.
package dashboard

import "embed"

// Assets holds assets/index.html. The server replaces {{.Title}} with the
// configured title before serving it.
//
//go:embed assets/*
var Assets embed.FS
