package google

// DefaultOAuthScopes are the Google OAuth scopes required for full MCP functionality.
// These scopes are used consistently across the application for OAuth configurations.
//
// The scopes provide access to:
//   - User identity: OpenID Connect email (per-user sessions over HTTP)
//   - Google Drive: full access (notebooks are Drive files; creating and
//     reading them needs the broad drive scope, not drive.file, because
//     Colab itself creates notebooks outside this app)
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for user info)
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",

	// Google Drive scope
	"https://www.googleapis.com/auth/drive",
}
