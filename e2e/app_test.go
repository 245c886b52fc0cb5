//go:build e2e

package e2e

import (
	"fmt"
	"net/http"
)

const layout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<link rel="icon" href="/favicon.ico">
<link rel="manifest" href="/manifest.json">
</head>
<body>
<header><a href="/"><img src="/icons/192.png" alt="VAYRA logo" width="32" height="32"></a></header>
<main>%s</main>
</body>
</html>`

const manifest = `{
  "name": "VAYRA",
  "icons": [
    {"src": "/icons/192.png", "sizes": "192x192", "type": "image/png"},
    {"src": "/icons/512.png", "sizes": "512x512", "type": "image/png", "purpose": "any maskable"}
  ]
}`

// a 1x1 transparent PNG
var pixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func page(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, layout, title, body)
}

// newFixtureApp serves a tiny application with a landing page, a sign in
// form and a dashboard
func newFixtureApp() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		page(w, http.StatusOK, "VAYRA", `<section class="hero"><h1>Plan your trips</h1>
<a href="/login">Sign in</a> <button id="idle" type="button">Does nothing</button></section>`)
	})
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		page(w, http.StatusOK, "Sign in - VAYRA", `<form method="post" action="/dashboard">
<input type="email" name="email" required>
<input type="password" name="password" required>
<button type="submit">Sign in</button>
</form>`)
	})
	mux.HandleFunc("POST /dashboard", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("email") == "" || r.FormValue("password") == "" {
			page(w, http.StatusUnauthorized, "Sign in - VAYRA", `<p role="alert" class="error">Invalid email or password</p>`)
			return
		}
		page(w, http.StatusOK, "Dashboard - VAYRA", `<h1>Welcome to your VAYRA dashboard</h1>
<nav><a href="/">Home</a><a href="/trips">Trips</a><a href="/budget">Budget</a></nav>`)
	})
	mux.HandleFunc("GET /manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, manifest)
	})
	icon := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pixel)
	}
	mux.HandleFunc("GET /icons/{name}", icon)
	mux.HandleFunc("GET /favicon.ico", icon)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		page(w, http.StatusNotFound, "Not found", `<h1>404</h1><a href="/">Back home</a>`)
	})
	return mux
}
