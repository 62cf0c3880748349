package spotify

// loginSuccessHTML is served by the callback server once an authorization code arrives.
const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Signed in - tokenkeeper</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #121212;
            color: #ffffff;
        }
        .card {
            text-align: center;
            background: #181818;
            padding: 2.5rem;
            border-radius: 12px;
            max-width: 420px;
        }
        h1 { color: #1db954; margin-top: 0; }
        p { color: #b3b3b3; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Signed in</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
    <script>setTimeout(function () { window.close(); }, 5000);</script>
</body>
</html>`

// loginFailureHTML is served when the redirect carries an error. {{ERROR}} is
// replaced with the HTML-escaped error code.
const loginFailureHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign-in failed - tokenkeeper</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #121212;
            color: #ffffff;
        }
        .card {
            text-align: center;
            background: #181818;
            padding: 2.5rem;
            border-radius: 12px;
            max-width: 420px;
        }
        h1 { color: #e22134; margin-top: 0; }
        code { color: #b3b3b3; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Sign-in failed</h1>
        <p><code>{{ERROR}}</code></p>
        <p>Return to the terminal and try again.</p>
    </div>
</body>
</html>`
