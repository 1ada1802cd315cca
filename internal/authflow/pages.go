package authflow

// HTML pages served to the browser on the callback. Kept deliberately
// self-contained: no external assets, inline styles only, so they render
// even though the local listener is torn down moments later.

const successPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Login successful</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f6f8fa; }
.card { background: #fff; border: 1px solid #d0d7de; border-radius: 6px; padding: 2rem 3rem; text-align: center; }
h1 { color: #1a7f37; font-size: 1.3rem; }
p { color: #57606a; }
</style>
</head>
<body>
<div class="card">
<h1>Login successful</h1>
<p>You are signed in. You can close this window and return to the application.</p>
</div>
</body>
</html>`

const errorPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Login failed</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f6f8fa; }
.card { background: #fff; border: 1px solid #d0d7de; border-radius: 6px; padding: 2rem 3rem; text-align: center; }
h1 { color: #cf222e; font-size: 1.3rem; }
p { color: #57606a; }
code { background: #f6f8fa; padding: 0.1rem 0.3rem; border-radius: 4px; }
</style>
</head>
<body>
<div class="card">
<h1>Login failed</h1>
<p><code>{{.Error}}</code></p>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<p>You can close this window and try again from the application.</p>
</div>
</body>
</html>`
